// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// config is meshdemo's configuration surface. An in-process demo has no
// real listen/dial address to speak of, but HandshakeTimeout and LogLevel
// are real knobs a deployment would want to set.
type config struct {
	HandshakeTimeout time.Duration
	LogLevel         string
}

// rawConfig mirrors config with a duration string, since yaml.v3 has no
// built-in time.Duration support.
type rawConfig struct {
	HandshakeTimeout string `yaml:"handshakeTimeout"`
	LogLevel         string `yaml:"logLevel"`
}

var defaultConfig = config{
	HandshakeTimeout: 10 * time.Second,
	LogLevel:         "info",
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return config{}, err
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return config{}, fmt.Errorf("meshdemo: parse config: %w", err)
	}
	if raw.HandshakeTimeout != "" {
		d, err := time.ParseDuration(raw.HandshakeTimeout)
		if err != nil {
			return config{}, fmt.Errorf("meshdemo: parse handshakeTimeout: %w", err)
		}
		cfg.HandshakeTimeout = d
	}
	if raw.LogLevel != "" {
		cfg.LogLevel = raw.LogLevel
	}
	return cfg, nil
}
