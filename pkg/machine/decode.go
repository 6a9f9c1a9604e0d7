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
	"fmt"
	"strings"

	"github.com/lassandro/goz3/pkg/encoding"
)

type InstructionForm uint8

const (
	FORM_LONG InstructionForm = iota
	FORM_SHORT
	FORM_VARIABLE
)

func (f InstructionForm) String() string {
	switch f {
	case FORM_LONG:
		return "long"
	case FORM_SHORT:
		return "short"
	case FORM_VARIABLE:
		return "variable"
	}

	return "???"
}

// One decoded instruction.
type Instruction struct {
	Addr   uint32
	Byte   uint8
	Opcode uint8
	Info   encoding.OpcodeInfo
	Form   InstructionForm

	Types []uint8

	// Operands as encoded, and after variable operands were resolved
	Operands []uint16
	Values   []uint16

	Store uint8

	BranchAddr   uint32
	BranchOnTrue bool
	BranchOffset int16

	Text string

	// Address of the following instruction
	Next uint32
}

// Resolves a variable operand to its value. Reading variable 0 pops.
type VariableResolver func(n uint8) uint16

type Decoder struct {
	mem  *Memory
	text *TextCodec
}

func NewDecoder(mem *Memory, text *TextCodec) *Decoder {
	return &Decoder{mem: mem, text: text}
}

// Maps an opcode byte to its form, operand count and opcode number.
//
// 0x00-0x7F  long      2OP  number = low 5 bits
// 0x80-0xAF  short     1OP  number = 128 + low 4 bits
// 0xB0-0xBF  short     0OP  number = 176 + low 4 bits
// 0xC0-0xDF  variable  2OP  number = low 5 bits
// 0xE0-0xFF  variable  VAR  number = 224 + low 5 bits
func classify(b uint8) (InstructionForm, uint8) {
	switch {
	case b < 0x80:
		return FORM_LONG, b & 0x1F
	case b < 0xB0:
		return FORM_SHORT, 128 + b&0x0F
	case b < 0xC0:
		return FORM_SHORT, 176 + b&0x0F
	case b < 0xE0:
		return FORM_VARIABLE, b & 0x1F
	}

	return FORM_VARIABLE, 224 + b&0x1F
}

// Decodes the instruction at pc. With a nil resolver variable operands are
// left unresolved, which is what a disassembler wants.
func (d *Decoder) Decode(pc uint32, resolve VariableResolver) *Instruction {
	in := &Instruction{Addr: pc, Byte: d.mem.Byte(pc)}
	cursor := pc + 1

	if in.Byte == OPCODE_EXTENDED {
		raise(ErrExtendedForm, "opcode byte %#02x", in.Byte)
	}

	in.Form, in.Opcode = classify(in.Byte)

	info, ok := encoding.OpcodeByNumber(in.Opcode)

	if !ok {
		raise(ErrUnknownOpcode, "opcode %d (byte %#02x)", in.Opcode, in.Byte)
	}

	in.Info = info

	switch in.Form {
	case FORM_LONG:
		// Bit 6 and bit 5 select small constant or variable for each operand
		in.Types = []uint8{OPERAND_SMALL, OPERAND_SMALL}

		if in.Byte&0x40 != 0 {
			in.Types[0] = OPERAND_VAR
		}

		if in.Byte&0x20 != 0 {
			in.Types[1] = OPERAND_VAR
		}

	case FORM_SHORT:
		if kind := (in.Byte >> 4) & 0x03; kind != OPERAND_OMITTED {
			in.Types = []uint8{kind}
		}

	case FORM_VARIABLE:
		types := d.mem.Byte(cursor)
		cursor++

		for shift := 6; shift >= 0; shift -= 2 {
			kind := (types >> uint(shift)) & 0x03

			if kind == OPERAND_OMITTED {
				break
			}

			in.Types = append(in.Types, kind)
		}
	}

	for _, kind := range in.Types {
		var operand uint16

		if kind == OPERAND_LARGE {
			operand = d.mem.Word(cursor)
			cursor += 2
		} else {
			operand = uint16(d.mem.Byte(cursor))
			cursor++
		}

		in.Operands = append(in.Operands, operand)
	}

	// Resolve in encoded order; stack reads pop as they go
	in.Values = make([]uint16, len(in.Operands))

	for i, operand := range in.Operands {
		if in.Types[i] == OPERAND_VAR && resolve != nil {
			in.Values[i] = resolve(uint8(operand))
		} else {
			in.Values[i] = operand
		}
	}

	if info.Store {
		in.Store = d.mem.Byte(cursor)
		cursor++
	}

	if info.Branch {
		in.BranchAddr = cursor
		size := uint32(encoding.BranchSize(d.mem.Byte(cursor)))
		in.BranchOnTrue, in.BranchOffset = encoding.DecodeBranch(
			d.mem.Slice(cursor, size),
		)
		cursor += size
	}

	if info.Text {
		in.Text, cursor = d.text.Decode(cursor)
	}

	in.Next = cursor

	return in
}

// Address the branch lands on when taken, or 0 when it returns instead.
func (in *Instruction) BranchTarget() uint32 {
	if in.BranchOffset == encoding.BRANCH_RFALSE ||
		in.BranchOffset == encoding.BRANCH_RTRUE {
		return 0
	}

	return uint32(int64(in.Next) + int64(in.BranchOffset) - 2)
}

func variableName(n uint8) string {
	switch {
	case n == VAR_STACK:
		return "sp"
	case n <= VAR_LOCAL_LAST:
		return fmt.Sprintf("l%d", n)
	}

	return fmt.Sprintf("g%d", n-VAR_GLOBAL)
}

// Assembly-like rendering, matching the syntax the assembler accepts.
func (in *Instruction) String() string {
	var builder strings.Builder

	builder.WriteString(in.Info.Name)

	for i, operand := range in.Operands {
		builder.WriteByte(' ')

		switch {
		case in.Types[i] == OPERAND_VAR:
			builder.WriteString(variableName(uint8(operand)))
		case i == 0 && in.Info.VarRef:
			builder.WriteString(variableName(uint8(operand)))
		case in.Opcode == encoding.OP_JUMP:
			target := int64(in.Next) + int64(int16(operand)) - 2
			fmt.Fprintf(&builder, "%#05x", target)
		default:
			fmt.Fprintf(&builder, "%d", operand)
		}
	}

	if in.Info.Store {
		builder.WriteString(" -> ")
		builder.WriteString(variableName(in.Store))
	}

	if in.Info.Branch {
		builder.WriteString(" ?")

		if !in.BranchOnTrue {
			builder.WriteByte('~')
		}

		switch in.BranchOffset {
		case encoding.BRANCH_RFALSE:
			builder.WriteString("rfalse")
		case encoding.BRANCH_RTRUE:
			builder.WriteString("rtrue")
		default:
			fmt.Fprintf(&builder, "%#05x", in.BranchTarget())
		}
	}

	if in.Info.Text {
		fmt.Fprintf(&builder, " %q", in.Text)
	}

	return builder.String()
}
