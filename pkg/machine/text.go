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
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/lassandro/goz3/pkg/encoding"
)

type decodedText struct {
	Text string
	Next uint32
}

// Decodes Z-strings out of memory. Strings lying wholly in static or high
// memory cannot change, so their decoded form is cached.
type TextCodec struct {
	mem           *Memory
	abbreviations uint32
	staticBase    uint32
	cache         *lru.Cache
}

func NewTextCodec(mem *Memory, header *Header) (*TextCodec, error) {
	cache, err := lru.New(TEXT_CACHE_ENTRIES)

	if err != nil {
		return nil, err
	}

	return &TextCodec{
		mem:           mem,
		abbreviations: header.Abbreviations,
		staticBase:    header.StaticBase,
		cache:         cache,
	}, nil
}

// Drops every cached string. Called whenever memory is replaced wholesale.
func (tc *TextCodec) Purge() {
	tc.cache.Purge()
}

// Reads Z-characters from addr up to and including the word with its top
// bit set. Returns the characters and the address following the string.
func (tc *TextCodec) ZChars(addr uint32) ([]uint8, uint32) {
	var zchars []uint8

	for {
		triple, last := encoding.UnpackWord(tc.mem.Word(addr))
		zchars = append(zchars, triple[:]...)
		addr += 2

		if last {
			return zchars, addr
		}
	}
}

// Decodes the string at addr. Returns the text and the address following the
// encoded string.
func (tc *TextCodec) Decode(addr uint32) (string, uint32) {
	if addr >= tc.staticBase {
		if value, ok := tc.cache.Get(addr); ok {
			entry := value.(decodedText)
			return entry.Text, entry.Next
		}
	}

	zchars, next := tc.ZChars(addr)
	text, abbreviated := tc.decode(zchars, false)

	// The abbreviation table usually sits in dynamic memory
	if addr >= tc.staticBase && (!abbreviated || tc.abbreviations >= tc.staticBase) {
		tc.cache.Add(addr, decodedText{Text: text, Next: next})
	}

	return text, next
}

func (tc *TextCodec) decode(zchars []uint8, nested bool) (string, bool) {
	var builder strings.Builder
	abbreviated := false

	for i := 0; i < len(zchars); i++ {
		zchar := zchars[i]

		switch {
		case zchar == encoding.ZCHAR_SPACE:
			builder.WriteByte(' ')

		case zchar <= 3:
			if i+1 >= len(zchars) {
				return builder.String(), abbreviated
			}

			if nested {
				raise(
					ErrNestedAbbreviation,
					"abbreviation %d/%d inside an abbreviation", zchar, zchars[i+1],
				)
			}

			i++
			builder.WriteString(tc.abbreviation(zchar, zchars[i]))
			abbreviated = true

		case zchar == encoding.ZCHAR_SHIFT1 || zchar == encoding.ZCHAR_SHIFT2:
			if i+1 >= len(zchars) || zchars[i+1] == encoding.ZCHAR_PAD {
				return builder.String(), abbreviated
			}

			next := zchars[i+1]

			// A shift applies to alphabet characters only; anything else
			// cancels it and is read on its own
			if next < 6 {
				continue
			}

			i++

			if zchar == encoding.ZCHAR_SHIFT2 && next == encoding.ZCHAR_LITERAL {
				if i+2 >= len(zchars) {
					return builder.String(), abbreviated
				}

				code := uint16(zchars[i+1])<<5 | uint16(zchars[i+2])
				builder.WriteString(encoding.ZSCIIToText(code))
				i += 2
			} else if zchar == encoding.ZCHAR_SHIFT1 {
				builder.WriteByte(encoding.A1[next-6])
			} else {
				builder.WriteByte(encoding.A2[next-6])
			}

		default:
			builder.WriteByte(encoding.A0[zchar-6])
		}
	}

	return builder.String(), abbreviated
}

func (tc *TextCodec) abbreviation(class uint8, index uint8) string {
	entry := tc.abbreviations + 2*(ABBREVIATION_CLASS*uint32(class-1)+uint32(index))
	addr := uint32(tc.mem.Word(entry)) * 2

	zchars, _ := tc.ZChars(addr)
	text, _ := tc.decode(zchars, true)

	return text
}

// Encodes a token into the two-word dictionary key.
func (tc *TextCodec) EncodeWord(text string) [2]uint16 {
	return encoding.EncodeDictWord(text)
}

func (tc *TextCodec) ZSCIIToText(code uint16) string {
	return encoding.ZSCIIToText(code)
}
