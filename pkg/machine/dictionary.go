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

	"github.com/lassandro/goz3/pkg/encoding"
)

// One word or separator from a line of input.
type Token struct {
	Text string

	Length uint8

	// 1-based position of the token's first character in the text buffer
	Offset uint8

	// Address of the matching dictionary entry, or 0
	Entry uint16
}

type Dictionary struct {
	Addr        uint32
	Separators  []byte
	EntryLength uint8
	Count       uint16

	// Address of the first entry
	Entries uint32

	text *TextCodec
	mem  *Memory
}

// Reads the dictionary header at addr.
//
// n | separators (n bytes) | entry length | count (word) | entries...
func LoadDictionary(mem *Memory, text *TextCodec, addr uint32) *Dictionary {
	count := uint32(mem.Byte(addr))
	separators := mem.Slice(addr+1, count)
	cursor := addr + 1 + count

	return &Dictionary{
		Addr:        addr,
		Separators:  separators,
		EntryLength: mem.Byte(cursor),
		Count:       mem.Word(cursor + 1),
		Entries:     cursor + 3,
		text:        text,
		mem:         mem,
	}
}

func (d *Dictionary) isSeparator(c byte) bool {
	for _, separator := range d.Separators {
		if c == separator {
			return true
		}
	}

	return false
}

// Splits input into words and separators. Spaces delimit words and are
// dropped; each separator character is a token of its own.
func (d *Dictionary) Split(input string) []Token {
	var tokens []Token

	start := -1

	flush := func(end int) {
		if start >= 0 {
			tokens = append(tokens, Token{
				Text:   input[start:end],
				Length: uint8(end - start),
				Offset: uint8(start + 1),
			})
			start = -1
		}
	}

	for i := 0; i < len(input); i++ {
		c := input[i]

		switch {
		case d.isSeparator(c):
			flush(i)
			tokens = append(tokens, Token{
				Text:   input[i : i+1],
				Length: 1,
				Offset: uint8(i + 1),
			})
		case c == ' ':
			flush(i)
		default:
			if start < 0 {
				start = i
			}
		}
	}

	flush(len(input))

	return tokens
}

// Address of the entry whose key matches exactly, or 0. Entries are
// compared in storage order.
func (d *Dictionary) Lookup(key [2]uint16) uint16 {
	length := uint32(d.EntryLength)

	for i := uint32(0); i < uint32(d.Count); i++ {
		addr := d.Entries + length*i

		if d.mem.Word(addr) == key[0] && d.mem.Word(addr+2) == key[1] {
			return uint16(addr)
		}
	}

	return 0
}

// Tokenises input and resolves every token against the dictionary.
func (d *Dictionary) LexicalAnalysis(input string) []Token {
	tokens := d.Split(strings.ToLower(input))

	for i := range tokens {
		tokens[i].Entry = d.Lookup(d.text.EncodeWord(tokens[i].Text))
	}

	return tokens
}

// Address of entry i.
func (d *Dictionary) Entry(i uint16) uint32 {
	return d.Entries + uint32(d.EntryLength)*uint32(i)
}

// The printable form of entry i's key.
func (d *Dictionary) Word(i uint16) string {
	text, _ := d.text.Decode(d.Entry(i))

	return text
}

// True when the stored keys are in ascending order.
func (d *Dictionary) Sorted() bool {
	for i := uint16(1); i < d.Count; i++ {
		prev := d.Entry(i - 1)
		curr := d.Entry(i)

		a := [2]uint16{d.mem.Word(prev), d.mem.Word(prev + 2)}
		b := [2]uint16{d.mem.Word(curr), d.mem.Word(curr + 2)}

		if encoding.CompareDictWords(a, b) >= 0 {
			return false
		}
	}

	return true
}
