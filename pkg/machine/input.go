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
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/lassandro/goz3/pkg/encoding"
)

// Folds a line of player input into what the story's text buffer can hold:
// accents stripped, lower case, printable ASCII only, no line terminator.
func NormalizeInput(line string) string {
	line = strings.TrimRight(line, "\r\n")

	fold := transform.Chain(
		norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC,
	)

	if folded, _, err := transform.String(fold, line); err == nil {
		line = folded
	}

	line = cases.Lower(language.Und).String(line)

	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}

		// Tabs and other controls read as spaces
		if _, ok := encoding.ByteToZSCII(byte(r)); !ok || r == '\n' || r == '\r' {
			return ' '
		}

		return r
	}, line)
}
