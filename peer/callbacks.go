// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package peer

import (
	"sync"

	"code.hybscloud.com/mesh/wire"
)

// callbackTable is a Peer's per-connection handle table: outbound
// procedures become integer keys here; the far side invokes them by
// sending the key back. Keys are single-shot — consume removes the entry.
type callbackTable struct {
	mu      sync.Mutex
	table   map[uint32]wire.Proc
	nextKey uint32
}

func newCallbackTable() *callbackTable {
	return &callbackTable{table: make(map[uint32]wire.Proc), nextKey: 1}
}

// store allocates the next free key for fn, scanning forward with unsigned
// 32-bit wraparound when the preferred key is occupied. It fails only when
// the entire key space is in use.
func (c *callbackTable) store(fn wire.Proc) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.nextKey
	key := start
	for {
		if _, occupied := c.table[key]; !occupied {
			break
		}
		key++
		if key == start {
			return 0, ErrKeySpaceExhausted
		}
	}
	c.table[key] = fn
	c.nextKey = key + 1
	return key, nil
}

// consume removes and returns the procedure stored under key, if any. On
// success nextKey is reset to the freed key so the next store prefers it,
// matching the reference design's key-reuse-eagerness.
func (c *callbackTable) consume(key uint32) (wire.Proc, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn, ok := c.table[key]
	if ok {
		delete(c.table, key)
		c.nextKey = key
	}
	return fn, ok
}

// flush empties the table and returns everything that was stored, for the
// caller to invoke with a terminal error.
func (c *callbackTable) flush() []wire.Proc {
	c.mu.Lock()
	defer c.mu.Unlock()

	fns := make([]wire.Proc, 0, len(c.table))
	for _, fn := range c.table {
		fns = append(fns, fn)
	}
	c.table = make(map[uint32]wire.Proc)
	return fns
}
