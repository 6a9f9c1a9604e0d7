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

package machine

import (
	"github.com/lassandro/goz3/pkg/encoding"
)

// The story's single contiguous address space. Every access is bounds
// checked; an out-of-range access raises an ErrMemoryBounds fault.
//
// Writes above the static base are honoured. Well-behaved stories never
// issue them, and nothing here stops a story that does.
type Memory struct {
	data []byte
}

// Copies image into a new address space.
func NewMemory(image []byte) *Memory {
	data := make([]byte, len(image))
	copy(data, image)

	return &Memory{data: data}
}

func (m *Memory) Len() uint32 {
	return uint32(len(m.data))
}

// The live backing array. Callers must not retain it across restores.
func (m *Memory) Bytes() []byte {
	return m.data
}

func (m *Memory) check(addr uint32, size uint32) {
	if uint64(addr)+uint64(size) > uint64(len(m.data)) {
		raise(
			ErrMemoryBounds,
			"%d byte access at %#05x (length %#05x)", size, addr, len(m.data),
		)
	}
}

func (m *Memory) Byte(addr uint32) uint8 {
	m.check(addr, 1)

	return m.data[addr]
}

// Big-endian word read.
func (m *Memory) Word(addr uint32) uint16 {
	m.check(addr, 2)

	return encoding.Word(m.data, addr)
}

func (m *Memory) SetByte(addr uint32, value uint16) {
	m.check(addr, 1)

	m.data[addr] = uint8(value & 0xFF)
}

func (m *Memory) SetWord(addr uint32, value uint16) {
	m.check(addr, 2)

	encoding.PutWord(m.data, addr, value)
}

// A bounds-checked copy of n bytes starting at addr.
func (m *Memory) Slice(addr uint32, n uint32) []byte {
	m.check(addr, n)

	result := make([]byte, n)
	copy(result, m.data[addr:addr+n])

	return result
}
