// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import "fmt"

func errNoProc(name string) error {
	return fmt.Errorf("meshdemo: %s not installed in peer API", name)
}

func errTimeout(name string) error {
	return fmt.Errorf("meshdemo: timed out waiting for %s result", name)
}
