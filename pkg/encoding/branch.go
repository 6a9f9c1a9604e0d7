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

import "fmt"

const (
	BRANCH_ON_TRUE uint8 = 1 << 7
	BRANCH_SHORT   uint8 = 1 << 6

	BRANCH_SHORT_MAX int16 = 63
	BRANCH_LONG_MIN  int16 = -8192
	BRANCH_LONG_MAX  int16 = 8191

	// Offsets that return from the current routine instead of jumping.
	BRANCH_RFALSE int16 = 0
	BRANCH_RTRUE  int16 = 1
)

// Number of branch bytes introduced by the given first byte.
func BranchSize(first uint8) int {
	if first&BRANCH_SHORT != 0 {
		return 1
	}

	return 2
}

// Decodes branch data. b must hold at least BranchSize(b[0]) bytes.
//
// BR   |P|1|offset6    |                       Short form
// BR   |P|0|offset14 (hi)  |offset14 (lo)     | Long form
// ---- [ _ _ _ _ _ _ _ _ | _ _ _ _ _ _ _ _ ]
func DecodeBranch(b []byte) (onTrue bool, offset int16) {
	onTrue = b[0]&BRANCH_ON_TRUE != 0

	if b[0]&BRANCH_SHORT != 0 {
		return onTrue, int16(b[0] & 0x3F)
	}

	raw := uint16(b[0]&0x3F)<<8 | uint16(b[1])

	return onTrue, int16(SignExtend(raw, 14))
}

// Encodes branch data. The short form is only usable for offsets 0..63; the
// long form takes any signed 14-bit offset.
func EncodeBranch(onTrue bool, offset int16, long bool) ([]byte, error) {
	var polarity uint8

	if onTrue {
		polarity = BRANCH_ON_TRUE
	}

	if !long {
		if offset < 0 || offset > BRANCH_SHORT_MAX {
			return nil, fmt.Errorf("Branch offset %d out of short range", offset)
		}

		return []byte{polarity | BRANCH_SHORT | uint8(offset)}, nil
	}

	if offset < BRANCH_LONG_MIN || offset > BRANCH_LONG_MAX {
		return nil, fmt.Errorf("Branch offset %d out of long range", offset)
	}

	raw := uint16(offset) & 0x3FFF

	return []byte{polarity | uint8(raw>>8), uint8(raw)}, nil
}
