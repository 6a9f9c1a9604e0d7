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

package main

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lassandro/goz3/pkg/assembler"
	"github.com/lassandro/goz3/pkg/console"
	"github.com/lassandro/goz3/pkg/machine"
)

func TestScriptSeed(t *testing.T) {
	tests := []struct {
		Name   string
		Input  string
		Seed   int64
		Ok     bool
		Remain string
	}{
		{"Seed", "42\nlook\n", 42, true, "look\n"},
		{"Negative", "-7\nlook\n", -7, true, "look\n"},
		{"Padded", " 9 \r\nlook\n", 9, true, "look\n"},
		{"Zero", "0\nlook\n", 0, false, "0\nlook\n"},
		{"Command", "look\n", 0, false, "look\n"},
		{"Unterminated", "42", 0, false, "42"},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			script := bufio.NewReader(strings.NewReader(test.Input))
			seed, ok := scriptSeed(script)

			if seed != test.Seed || ok != test.Ok {
				t.Fatalf(
					"Seed mismatch\nwant:%d %t\nhave:%d %t",
					test.Seed, test.Ok, seed, ok,
				)
			}

			remain, err := io.ReadAll(script)
			require.NoError(t, err)
			assert.Equal(t, test.Remain, string(remain))
		})
	}
}

func TestDebugWrite(t *testing.T) {
	image, errs := assembler.AssembleStory(strings.NewReader(".start\n\tquit\n"), nil)
	require.Empty(t, errs)

	host := console.New(io.Discard, 0)
	mc, err := machine.New(image, host, machine.Options{Seed: 1})
	require.NoError(t, err)

	session := newDebugSession(mc, host, console.NewStreamReader(strings.NewReader(""), io.Discard), func() {})
	mc.Memory.SetWord(mc.Header.Globals, 0xBEEF)

	path := filepath.Join(t.TempDir(), "dump.z3")
	session.debugWrite([]string{path})

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, mc.Memory.Bytes(), written)
}
