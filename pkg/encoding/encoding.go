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

import (
	"errors"
	"strconv"
	"strings"
)

// Decodes a hexidecimal string in the formats: 0xFFFF, xFFFF, 0xFF, xFF
func DecodeHex(s string) (uint16, error) {
	if i := strings.IndexAny(s, "xX"); i == 0 {
		s = "0" + s
	} else if i == -1 || i != 1 {
		return 0, errors.New("Invalid hex string")
	}

	result, err := strconv.ParseUint(s, 0, 16)

	if err != nil {
		return 0, err
	}

	return uint16(result), nil
}

// Decodes a base-10 string in the formats: #123, 123, #-123. Values up to
// 65535 are accepted and wrap into the signed range the same way the machine
// stores them.
func DecodeInt(s string) (int16, error) {
	if i := strings.Index(s, "#"); i == 0 {
		s = s[1:]
	}

	result, err := strconv.ParseInt(s, 10, 32)

	if err != nil {
		return 0, err
	}

	if result < -32768 || result > 65535 {
		return 0, errors.New("Integer out of 16-bit range")
	}

	return int16(uint16(result)), nil
}

// Decodes either literal format, hex first.
func DecodeLiteral(s string) (uint16, error) {
	if strings.ContainsAny(s, "xX") {
		return DecodeHex(s)
	}

	value, err := DecodeInt(s)

	return uint16(value), err
}

func SignExtend(value uint16, bitcount uint16) uint16 {
	if (value>>(bitcount-1))&0x1 == 1 {
		value |= (0xFFFF << bitcount)
	}

	return value
}

// Reinterprets a machine word as a signed 16-bit number.
func Signed(value uint16) int16 {
	return int16(value)
}

func Word(buf []byte, offset uint32) uint16 {
	return uint16(buf[offset])<<8 | uint16(buf[offset+1])
}

func PutWord(buf []byte, offset uint32, value uint16) {
	buf[offset] = uint8(value >> 8)
	buf[offset+1] = uint8(value)
}
