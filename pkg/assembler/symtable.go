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
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

var symEncMode cbor.EncMode

func init() {
	mode, err := cbor.CanonicalEncOptions().EncMode()

	if err != nil {
		panic(fmt.Sprintf("assembler: cbor encoder: %v", err))
	}

	symEncMode = mode
}

// Writes the table in the symbol file format read by ReadSymTable.
func (s *SymTable) WriteTo(w io.Writer) (int64, error) {
	data, err := symEncMode.Marshal(s)

	if err != nil {
		return 0, err
	}

	n, err := w.Write(data)

	return int64(n), err
}

func ReadSymTable(r io.Reader) (*SymTable, error) {
	table := NewSymTable()

	if err := cbor.NewDecoder(r).Decode(table); err != nil {
		return nil, fmt.Errorf("reading symbol table: %w", err)
	}

	return table, nil
}
