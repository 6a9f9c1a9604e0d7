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

const (
	VERSION uint8 = 3

	HEADER_SIZE uint32 = 0x40

	// Packed addresses are word offsets in this version
	PACKED_SCALE uint32 = 2

	// Stored file length is divided by this
	FILE_LENGTH_SCALE uint32 = 2
)

// Header offsets
const (
	HDR_VERSION       uint32 = 0x00
	HDR_FLAGS1        uint32 = 0x01
	HDR_RELEASE       uint32 = 0x02
	HDR_HIGH_BASE     uint32 = 0x04
	HDR_INITIAL_PC    uint32 = 0x06
	HDR_DICTIONARY    uint32 = 0x08
	HDR_OBJECT_TABLE  uint32 = 0x0A
	HDR_GLOBALS       uint32 = 0x0C
	HDR_STATIC_BASE   uint32 = 0x0E
	HDR_FLAGS2        uint32 = 0x10
	HDR_SERIAL        uint32 = 0x12
	HDR_ABBREVIATIONS uint32 = 0x18
	HDR_FILE_LENGTH   uint32 = 0x1A
	HDR_CHECKSUM      uint32 = 0x1C
)

const (
	// flags1: story wants colour
	FLAG1_COLOURS uint8 = 1 << 0

	// flags2: story wants mouse and menu support
	FLAG2_MOUSE uint16 = 1 << 5
	FLAG2_MENUS uint16 = 1 << 8
)

// Variable numbers
const (
	VAR_STACK       uint8 = 0x00
	VAR_LOCAL_FIRST uint8 = 0x01
	VAR_LOCAL_LAST  uint8 = 0x0F
	VAR_GLOBAL      uint8 = 0x10

	// Globals the status line reads
	VAR_LOCATION uint8 = 0x10
	VAR_SCORE    uint8 = 0x11
	VAR_MOVES    uint8 = 0x12
)

// Operand types, two bits each
const (
	OPERAND_LARGE   uint8 = 0b00
	OPERAND_SMALL   uint8 = 0b01
	OPERAND_VAR     uint8 = 0b10
	OPERAND_OMITTED uint8 = 0b11
)

// Opcode byte that introduces the extended form of later versions
const OPCODE_EXTENDED uint8 = 0xBE

const (
	MAX_LOCALS = 15

	// [return pc hi, return pc lo, store variable, previous base, locals]
	FRAME_RECORD_SIZE = 5

	DEFAULT_STACK_LIMIT = 4096
)

// Object table layout
const (
	OBJECT_DEFAULTS     uint32 = 31
	OBJECT_ENTRY_SIZE   uint32 = 9
	OBJECT_MAX          uint16 = 255
	OBJECT_PARENT       uint32 = 4
	OBJECT_SIBLING      uint32 = 5
	OBJECT_CHILD        uint32 = 6
	OBJECT_PROPERTIES   uint32 = 7
	ATTRIBUTE_MAX       uint16 = 31
	PROPERTY_MAX        uint16 = 31
	PROPERTY_MAX_SIZE   uint8  = 8
	PROPERTY_WORD_SIZE  uint8  = 2
	ABBREVIATION_COUNT  uint32 = 96
	ABBREVIATION_CLASS  uint32 = 32
	TEXT_CACHE_ENTRIES         = 512
	PARSE_BLOCK_SIZE    uint32 = 4
	PARSE_BLOCKS_OFFSET uint32 = 2
)
