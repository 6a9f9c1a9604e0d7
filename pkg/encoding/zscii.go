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

const (
	ZSCII_NULL    uint16 = 0
	ZSCII_NEWLINE uint16 = 13

	ZSCII_EXTRA_FIRST uint16 = 155
	ZSCII_EXTRA_LAST  uint16 = 223

	// Printed for any code with no output mapping.
	UNSUPPORTED_CHAR = "?"
)

// ASCII renderings of the extra characters 155-223.
var zsciiExtra = [...]string{
	"ae", "oe", "ue", "Ae", "Oe", "Ue", "ss", "\"", "\"", "e",
	"i", "y", "E", "I", "a", "e", "i", "o", "u", "y",
	"A", "E", "I", "O", "U", "Y", "a", "e", "i", "o",
	"u", "A", "E", "I", "O", "U", "a", "e", "i", "o",
	"u", "A", "E", "I", "O", "U", "a", "A", "o", "O",
	"a", "n", "o", "A", "N", "O", "ae", "AE", "c", "C",
	"th", "th", "Th", "Th", "L", "oe", "OE", "!", "?",
}

// Maps a ZSCII output code to printable text.
func ZSCIIToText(code uint16) string {
	switch {
	case code == ZSCII_NULL:
		return ""
	case code == ZSCII_NEWLINE:
		return "\n"
	case code >= 32 && code <= 126:
		return string(rune(code))
	case code >= ZSCII_EXTRA_FIRST && code <= ZSCII_EXTRA_LAST:
		return zsciiExtra[code-ZSCII_EXTRA_FIRST]
	}

	return UNSUPPORTED_CHAR
}

// Maps an input character to ZSCII. Newlines become 13; anything outside
// printable ASCII is rejected.
func ByteToZSCII(c byte) (uint8, bool) {
	switch {
	case c == '\n' || c == '\r':
		return uint8(ZSCII_NEWLINE), true
	case c >= 32 && c <= 126:
		return c, true
	}

	return 0, false
}
