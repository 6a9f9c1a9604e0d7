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

const (
	TOKEN_NONE TokenType = iota
	TOKEN_IDENT
	TOKEN_DIRECTIVE
	TOKEN_STRING
	TOKEN_LITERAL
	TOKEN_STORE
	TOKEN_BRANCH
)

const (
	DIRECTIVE_INVALID DirectiveType = iota
	DIRECTIVE_RELEASE
	DIRECTIVE_SERIAL
	DIRECTIVE_START
	DIRECTIVE_GLOBAL
	DIRECTIVE_DEFAULT
	DIRECTIVE_OBJECT
	DIRECTIVE_ATTR
	DIRECTIVE_PROP
	DIRECTIVE_PROPW
	DIRECTIVE_SEPARATORS
	DIRECTIVE_DICT
	DIRECTIVE_ABBREV
	DIRECTIVE_ROUTINE
	DIRECTIVE_STRING
	DIRECTIVE_BYTES
	DIRECTIVE_WORDS
	DIRECTIVE_BUFFER
	DIRECTIVE_END
)

const (
	// Byte address in dynamic or high memory
	LABEL_ADDR LabelType = iota

	// Routine or string, referenced by packed address
	LABEL_PACKED

	// Object number
	LABEL_OBJECT

	// Dictionary entry address
	LABEL_DICT
)

const (
	OPERAND_KIND_LITERAL OperandKind = iota
	OPERAND_KIND_VARIABLE
	OPERAND_KIND_LABEL
)

const (
	STORY_VERSION = 3
	HEADER_SIZE   = 0x40

	// Abbreviation table sits straight after the header
	ABBREVIATION_TABLE = HEADER_SIZE
	ABBREVIATION_COUNT = 96
	ABBREVIATION_CLASS = 32

	DEFAULT_PROPERTIES = 31
	OBJECT_ENTRY_SIZE  = 9
	OBJECT_MAX         = 255
	ATTRIBUTE_MAX      = 31
	PROPERTY_MAX       = 31
	PROPERTY_MAX_SIZE  = 8

	GLOBAL_COUNT = 240
	GLOBAL_FIRST = 0x10
	LOCAL_MAX    = 15

	DICT_ENTRY_LENGTH = 7

	// Highest packed address a v3 story can name
	STORY_MAX_SIZE = 128 * 1024
)

// Default word separators, as most stories declare them.
const DEFAULT_SEPARATORS = ".,\""

// Operand type bits as they appear in an instruction
const (
	TYPE_LARGE   uint8 = 0
	TYPE_SMALL   uint8 = 1
	TYPE_VAR     uint8 = 2
	TYPE_OMITTED uint8 = 3
)
