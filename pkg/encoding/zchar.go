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

package encoding

import "strings"

// Alphabet rows, indexed by Z-character minus 6. A2[0] is never printed:
// Z-character 6 in A2 introduces a 10-bit ZSCII literal.
const (
	A0 = "abcdefghijklmnopqrstuvwxyz"
	A1 = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	A2 = " \n0123456789.,!?_#'\"/\\-:()"
)

const (
	ZCHAR_SPACE   uint8 = 0
	ZCHAR_SHIFT1  uint8 = 4
	ZCHAR_SHIFT2  uint8 = 5
	ZCHAR_LITERAL uint8 = 6
	ZCHAR_PAD     uint8 = 5

	// Number of Z-characters in a v3 dictionary key (two words).
	DICT_WORD_ZCHARS = 6
)

// Splits one 16-bit text word into its three 5-bit Z-characters and reports
// whether the word terminates the string.
//
// --first byte-------   --second byte---
// 7    6 5 4 3 2  1 0   7 6 5  4 3 2 1 0
// bit  --first--  --second---  --third--
func UnpackWord(word uint16) ([3]uint8, bool) {
	return [3]uint8{
		uint8((word >> 10) & 0x1F),
		uint8((word >> 5) & 0x1F),
		uint8(word & 0x1F),
	}, word&0x8000 != 0
}

// Packs Z-characters three to a word, padding the final word with 5s and
// setting the terminator bit on it. An empty sequence still yields one word.
func PackZChars(zchars []uint8) []uint16 {
	count := (len(zchars) + 2) / 3
	if count == 0 {
		count = 1
	}

	words := make([]uint16, count)

	for i := range words {
		var triple [3]uint8

		for j := 0; j < 3; j++ {
			if k := i*3 + j; k < len(zchars) {
				triple[j] = zchars[k] & 0x1F
			} else {
				triple[j] = ZCHAR_PAD
			}
		}

		words[i] = uint16(triple[0])<<10 | uint16(triple[1])<<5 |
			uint16(triple[2])

		if i == count-1 {
			words[i] |= 0x8000
		}
	}

	return words
}

func literalZChars(c byte) []uint8 {
	return []uint8{ZCHAR_SHIFT2, ZCHAR_LITERAL, c >> 5, c & 0x1F}
}

// Encodes arbitrary text into Z-characters using all three alphabets, the
// way story text is stored. Characters found in no alphabet become 10-bit
// literals.
func EncodeText(text string) []uint8 {
	zchars := make([]uint8, 0, len(text))

	for i := 0; i < len(text); i++ {
		c := text[i]

		if c == ' ' {
			zchars = append(zchars, ZCHAR_SPACE)
		} else if index := strings.IndexByte(A0, c); index >= 0 {
			zchars = append(zchars, uint8(index+6))
		} else if index := strings.IndexByte(A1, c); index >= 0 {
			zchars = append(zchars, ZCHAR_SHIFT1, uint8(index+6))
		} else if index := strings.IndexByte(A2, c); index > 0 {
			zchars = append(zchars, ZCHAR_SHIFT2, uint8(index+6))
		} else {
			zchars = append(zchars, literalZChars(c)...)
		}
	}

	return zchars
}

// Encodes input text into the two-word dictionary key. Only A0 and A2 are
// consulted (input is lower-cased before lexing); the result is padded or
// truncated to exactly six Z-characters.
func EncodeDictWord(text string) [2]uint16 {
	zchars := make([]uint8, 0, DICT_WORD_ZCHARS+4)

	for i := 0; i < len(text) && len(zchars) < DICT_WORD_ZCHARS; i++ {
		c := text[i]

		if index := strings.IndexByte(A0, c); index >= 0 {
			zchars = append(zchars, uint8(index+6))
		} else if index := strings.IndexByte(A2, c); index > 0 {
			zchars = append(zchars, ZCHAR_SHIFT2, uint8(index+6))
		} else {
			zchars = append(zchars, literalZChars(c)...)
		}
	}

	for len(zchars) < DICT_WORD_ZCHARS {
		zchars = append(zchars, ZCHAR_PAD)
	}

	words := PackZChars(zchars[:DICT_WORD_ZCHARS])

	return [2]uint16{words[0], words[1]}
}

// Orders dictionary keys the way story files sort them.
func CompareDictWords(a, b [2]uint16) int {
	ka := uint32(a[0])<<16 | uint32(a[1])
	kb := uint32(b[0])<<16 | uint32(b[1])

	switch {
	case ka < kb:
		return -1
	case ka > kb:
		return 1
	}

	return 0
}
