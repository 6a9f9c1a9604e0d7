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
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// On-disk layout of the first 0x1E bytes, read in one sequential pass.
type rawHeader struct {
	Version       uint8
	Flags1        uint8
	Release       uint16
	HighBase      uint16
	InitialPC     uint16
	Dictionary    uint16
	ObjectTable   uint16
	Globals       uint16
	StaticBase    uint16
	Flags2        uint16
	Serial        [6]byte
	Abbreviations uint16
	FileLength    uint16
	Checksum      uint16
}

type Header struct {
	Version       uint8
	Flags1        uint8
	Release       uint16
	HighBase      uint32
	InitialPC     uint32
	Dictionary    uint32
	ObjectTable   uint32
	Globals       uint32
	StaticBase    uint32
	Flags2        uint16
	Serial        string
	Abbreviations uint32

	// In bytes; already multiplied out of its stored form
	FileLength uint32
	Checksum   uint16
}

// Parses and validates the header of a story image.
func ParseHeader(image []byte) (*Header, error) {
	if len(image) < int(HEADER_SIZE) {
		return nil, fmt.Errorf(
			"story is %d bytes, shorter than its header: %w",
			len(image), ErrMemoryBounds,
		)
	}

	var raw rawHeader

	err := binary.Read(bytes.NewReader(image), binary.BigEndian, &raw)

	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	if raw.Version != VERSION {
		return nil, fmt.Errorf(
			"story file is v%d, want v%d: %w",
			raw.Version, VERSION, ErrUnsupportedVersion,
		)
	}

	header := &Header{
		Version:       raw.Version,
		Flags1:        raw.Flags1,
		Release:       raw.Release,
		HighBase:      uint32(raw.HighBase),
		InitialPC:     uint32(raw.InitialPC),
		Dictionary:    uint32(raw.Dictionary),
		ObjectTable:   uint32(raw.ObjectTable),
		Globals:       uint32(raw.Globals),
		StaticBase:    uint32(raw.StaticBase),
		Flags2:        raw.Flags2,
		Serial:        string(raw.Serial[:]),
		Abbreviations: uint32(raw.Abbreviations),
		FileLength:    uint32(raw.FileLength) * FILE_LENGTH_SCALE,
		Checksum:      raw.Checksum,
	}

	// Some hand-built stories leave the length blank
	if header.FileLength == 0 {
		header.FileLength = uint32(len(image))
	}

	size := uint32(len(image))

	if header.FileLength > size {
		return nil, fmt.Errorf(
			"header claims %d bytes but story has %d: %w",
			header.FileLength, size, ErrMemoryBounds,
		)
	}

	pointers := []struct {
		Name  string
		Value uint32
	}{
		{"high memory base", header.HighBase},
		{"initial pc", header.InitialPC},
		{"dictionary", header.Dictionary},
		{"object table", header.ObjectTable},
		{"global table", header.Globals},
		{"static base", header.StaticBase},
		{"abbreviation table", header.Abbreviations},
	}

	for _, pointer := range pointers {
		if pointer.Value >= size {
			return nil, fmt.Errorf(
				"%s %#05x lies outside the story: %w",
				pointer.Name, pointer.Value, ErrMemoryBounds,
			)
		}
	}

	return header, nil
}

// Clears the capability bits this interpreter does not provide, in both the
// parsed header and the image itself.
func (h *Header) adjustFlags(mem *Memory) {
	h.Flags1 &^= FLAG1_COLOURS
	h.Flags2 &^= FLAG2_MOUSE | FLAG2_MENUS

	mem.SetByte(HDR_FLAGS1, uint16(h.Flags1))
	mem.SetWord(HDR_FLAGS2, h.Flags2)
}

// Serial with any non-printing bytes dropped, for display and keys.
func (h *Header) SerialString() string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7E {
			return -1
		}

		return r
	}, h.Serial)
}

// Sum of every byte from 0x40 to the stated file length, modulo 0x10000.
func Checksum(image []byte, length uint32) uint16 {
	var sum uint16

	if length > uint32(len(image)) {
		length = uint32(len(image))
	}

	for addr := HEADER_SIZE; addr < length; addr++ {
		sum += uint16(image[addr])
	}

	return sum
}
