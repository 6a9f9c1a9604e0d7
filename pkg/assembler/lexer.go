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

package assembler

import (
	"strings"
	"unicode"
)

// Splits one source line into tokens. Commas and whitespace separate
// operands; a semicolon starts a comment that runs to the end of the line.
func tokenizeLine(line string, cursor Cursor) (tokens []Token, errs []error) {
	var builder strings.Builder
	var tokenStart int = 0
	var tokenType TokenType = TOKEN_NONE
	var escaped bool = false

	flush := func() {
		if builder.Len() > 0 {
			tokens = append(tokens, Token{
				Type: tokenType,
				Position: Cursor{
					Line:     cursor.Line,
					Column:   tokenStart,
					Byte:     cursor.Byte + int64(tokenStart-1),
					Size:     int64(builder.Len()),
					LineByte: cursor.LineByte,
				},
				Value: builder.String(),
			})
			builder.Reset()
		}

		tokenType = TOKEN_NONE
	}

	for column, char := range line {
		cursor.Column = column + 1

		if tokenType == TOKEN_NONE {
			tokenStart = cursor.Column
		}

		// Everything up to the closing quote belongs to the string
		if tokenType == TOKEN_STRING {
			builder.WriteRune(char)

			if char > unicode.MaxASCII {
				errs = append(errs, &OversizedCharacterError{cursor})
			}

			if char == '"' && !escaped {
				flush()
			}

			escaped = char == '\\' && !escaped
			continue
		}

		switch {
		// Whitespace
		case unicode.IsSpace(char):
			flush()
			continue

		// Comments
		case char == ';':
			flush()
			return

		// Operand Separator
		case char == ',':
			flush()
			continue

		// Assembler Directives
		case char == '.':
			if tokenType != TOKEN_NONE {
				errs = append(errs, &UnexpectedCharacterError{cursor, char})
				continue
			}

			tokenType = TOKEN_DIRECTIVE

		// String Literal
		case char == '"':
			if tokenType != TOKEN_NONE {
				errs = append(errs, &UnexpectedCharacterError{cursor, char})
				continue
			}

			tokenType = TOKEN_STRING
			escaped = false

		// Base 10 Literal (i.e. #42)
		case char == '#':
			if tokenType != TOKEN_NONE {
				errs = append(errs, &UnexpectedCharacterError{cursor, char})
				continue
			}

			tokenType = TOKEN_LITERAL

		// Numeric Sign, or the first half of a store arrow
		case char == '-':
			if tokenType == TOKEN_NONE {
				tokenType = TOKEN_LITERAL
			} else if tokenType != TOKEN_LITERAL || builder.Len() > 1 {
				errs = append(errs, &UnexpectedCharacterError{cursor, char})
				continue
			}

		// Store Arrow (->)
		case char == '>':
			if tokenType != TOKEN_LITERAL || builder.String() != "-" {
				errs = append(errs, &UnexpectedCharacterError{cursor, char})
				continue
			}

			builder.WriteRune(char)
			tokenType = TOKEN_STORE
			flush()
			continue

		// Branch Target (i.e. ?label, ?~rtrue)
		case char == '?':
			if tokenType != TOKEN_NONE {
				errs = append(errs, &UnexpectedCharacterError{cursor, char})
				continue
			}

			tokenType = TOKEN_BRANCH

		case char == '~':
			if tokenType != TOKEN_BRANCH || builder.Len() != 1 {
				errs = append(errs, &UnexpectedCharacterError{cursor, char})
				continue
			}

		// Numeric Literal
		case unicode.IsDigit(char):
			if tokenType == TOKEN_NONE {
				tokenType = TOKEN_LITERAL
			}

		// Identifier
		case unicode.IsLetter(char) || char == '_':
			if char > unicode.MaxASCII {
				errs = append(errs, &OversizedCharacterError{cursor})
				continue
			}

			if tokenType == TOKEN_NONE {
				tokenType = TOKEN_IDENT
			}

		default:
			if char > unicode.MaxASCII {
				errs = append(errs, &OversizedCharacterError{cursor})
			} else {
				errs = append(errs, &UnexpectedCharacterError{cursor, char})
			}

			continue
		}

		builder.WriteRune(char)
	}

	if tokenType == TOKEN_STRING {
		errs = append(errs, &InvalidStringError{cursor})
		builder.Reset()
	}

	flush()

	return
}
