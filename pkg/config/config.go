// Copyright (C) 2021  Antonio Lassandro

// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.

// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU General Public License for
// more details.

// You should have received a copy of the GNU General Public License along
// with this program.  If not, see <http://www.gnu.org/licenses/>.

// Interpreter settings, read from a TOML file. Anything the file leaves out
// keeps its default.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/lassandro/goz3/pkg/machine"
)

type Config struct {
	Display Display       `toml:"display"`
	Saves   Saves         `toml:"saves"`
	Machine MachineConfig `toml:"machine"`
	Log     Log           `toml:"log"`

	// File the settings came from, if any
	Path string `toml:"-"`
}

type Display struct {
	// Columns to wrap at; 0 asks the terminal
	Width      int  `toml:"width"`
	StatusLine bool `toml:"status-line"`
	Color      bool `toml:"color"`
}

type Saves struct {
	// "file", "leveldb" or "memory"
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
	Slot    string `toml:"slot"`
}

type MachineConfig struct {
	Seed       int64 `toml:"seed"`
	StackLimit int   `toml:"stack-limit"`
}

type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

func Default() *Config {
	return &Config{
		Display: Display{StatusLine: true, Color: true},
		Saves:   Saves{Backend: "file", Path: "saves", Slot: "default"},
		Machine: MachineConfig{StackLimit: machine.DEFAULT_STACK_LIMIT},
	}
}

// Reads path over the defaults. An empty path gives the defaults alone.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}

	meta, err := toml.DecodeFile(path, config)

	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))

		for i, key := range undecoded {
			keys[i] = key.String()
		}

		return nil, fmt.Errorf("%s: unknown settings %s", path, strings.Join(keys, ", "))
	}

	config.Path = path

	return config, config.Validate()
}

func (c *Config) Validate() error {
	switch c.Saves.Backend {
	case "file", "leveldb", "memory":
	default:
		return fmt.Errorf("unknown save backend %q", c.Saves.Backend)
	}

	if c.Display.Width < 0 {
		return fmt.Errorf("display width %d is negative", c.Display.Width)
	}

	if c.Machine.StackLimit < 0 {
		return fmt.Errorf("stack limit %d is negative", c.Machine.StackLimit)
	}

	return nil
}

func (c *Config) MachineOptions() machine.Options {
	return machine.Options{Seed: c.Machine.Seed, StackLimit: c.Machine.StackLimit}
}
