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

type OpcodeForm uint8

const (
	FORM_2OP OpcodeForm = iota
	FORM_1OP
	FORM_0OP
	FORM_VAR
)

func (f OpcodeForm) String() string {
	switch f {
	case FORM_2OP:
		return "2OP"
	case FORM_1OP:
		return "1OP"
	case FORM_0OP:
		return "0OP"
	case FORM_VAR:
		return "VAR"
	}

	return "???"
}

// Opcode numbers as the machine sees them after form decoding.
const (
	OP_JE            uint8 = 1
	OP_JL            uint8 = 2
	OP_JG            uint8 = 3
	OP_DEC_CHK       uint8 = 4
	OP_INC_CHK       uint8 = 5
	OP_JIN           uint8 = 6
	OP_TEST          uint8 = 7
	OP_OR            uint8 = 8
	OP_AND           uint8 = 9
	OP_TEST_ATTR     uint8 = 10
	OP_SET_ATTR      uint8 = 11
	OP_CLEAR_ATTR    uint8 = 12
	OP_STORE         uint8 = 13
	OP_INSERT_OBJ    uint8 = 14
	OP_LOADW         uint8 = 15
	OP_LOADB         uint8 = 16
	OP_GET_PROP      uint8 = 17
	OP_GET_PROP_ADDR uint8 = 18
	OP_GET_NEXT_PROP uint8 = 19
	OP_ADD           uint8 = 20
	OP_SUB           uint8 = 21
	OP_MUL           uint8 = 22
	OP_DIV           uint8 = 23
	OP_MOD           uint8 = 24

	OP_JZ           uint8 = 128
	OP_GET_SIBLING  uint8 = 129
	OP_GET_CHILD    uint8 = 130
	OP_GET_PARENT   uint8 = 131
	OP_GET_PROP_LEN uint8 = 132
	OP_INC          uint8 = 133
	OP_DEC          uint8 = 134
	OP_PRINT_ADDR   uint8 = 135
	OP_REMOVE_OBJ   uint8 = 137
	OP_PRINT_OBJ    uint8 = 138
	OP_RET          uint8 = 139
	OP_JUMP         uint8 = 140
	OP_PRINT_PADDR  uint8 = 141
	OP_LOAD         uint8 = 142
	OP_NOT          uint8 = 143

	OP_RTRUE       uint8 = 176
	OP_RFALSE      uint8 = 177
	OP_PRINT       uint8 = 178
	OP_PRINT_RET   uint8 = 179
	OP_NOP         uint8 = 180
	OP_SAVE        uint8 = 181
	OP_RESTORE     uint8 = 182
	OP_RESTART     uint8 = 183
	OP_RET_POPPED  uint8 = 184
	OP_POP         uint8 = 185
	OP_QUIT        uint8 = 186
	OP_NEW_LINE    uint8 = 187
	OP_SHOW_STATUS uint8 = 188
	OP_VERIFY      uint8 = 189

	OP_CALL       uint8 = 224
	OP_STOREW     uint8 = 225
	OP_STOREB     uint8 = 226
	OP_PUT_PROP   uint8 = 227
	OP_SREAD      uint8 = 228
	OP_PRINT_CHAR uint8 = 229
	OP_PRINT_NUM  uint8 = 230
	OP_RANDOM     uint8 = 231
	OP_PUSH       uint8 = 232
	OP_PULL       uint8 = 233
)

// Static facts about one opcode, shared by the machine's decoder and the
// assembler.
type OpcodeInfo struct {
	Number uint8
	Name   string

	// A store-variable byte follows the operands
	Store bool

	// Branch data follows the operands (and store byte, if any)
	Branch bool

	// An inline Z-string follows the opcode
	Text bool

	// The first operand names a variable rather than supplying a value
	VarRef bool
}

func (op OpcodeInfo) Form() OpcodeForm {
	return FormOf(op.Number)
}

// Fewest and most operands the opcode takes.
func (op OpcodeInfo) Arity() (least int, most int) {
	switch op.Form() {
	case FORM_0OP:
		return 0, 0
	case FORM_1OP:
		return 1, 1
	case FORM_2OP:
		if op.Number == OP_JE {
			return 2, 4
		}

		return 2, 2
	}

	switch op.Number {
	case OP_CALL:
		return 1, 4
	case OP_STOREW, OP_STOREB, OP_PUT_PROP:
		return 3, 3
	case OP_SREAD:
		return 2, 2
	}

	return 1, 1
}

func FormOf(number uint8) OpcodeForm {
	switch {
	case number < 32:
		return FORM_2OP
	case number >= 128 && number < 176:
		return FORM_1OP
	case number >= 176 && number < 224:
		return FORM_0OP
	}

	return FORM_VAR
}

// The complete version 3 instruction set.
var Opcodes = []OpcodeInfo{
	{Number: OP_JE, Name: "je", Branch: true},
	{Number: OP_JL, Name: "jl", Branch: true},
	{Number: OP_JG, Name: "jg", Branch: true},
	{Number: OP_DEC_CHK, Name: "dec_chk", Branch: true, VarRef: true},
	{Number: OP_INC_CHK, Name: "inc_chk", Branch: true, VarRef: true},
	{Number: OP_JIN, Name: "jin", Branch: true},
	{Number: OP_TEST, Name: "test", Branch: true},
	{Number: OP_OR, Name: "or", Store: true},
	{Number: OP_AND, Name: "and", Store: true},
	{Number: OP_TEST_ATTR, Name: "test_attr", Branch: true},
	{Number: OP_SET_ATTR, Name: "set_attr"},
	{Number: OP_CLEAR_ATTR, Name: "clear_attr"},
	{Number: OP_STORE, Name: "store", VarRef: true},
	{Number: OP_INSERT_OBJ, Name: "insert_obj"},
	{Number: OP_LOADW, Name: "loadw", Store: true},
	{Number: OP_LOADB, Name: "loadb", Store: true},
	{Number: OP_GET_PROP, Name: "get_prop", Store: true},
	{Number: OP_GET_PROP_ADDR, Name: "get_prop_addr", Store: true},
	{Number: OP_GET_NEXT_PROP, Name: "get_next_prop", Store: true},
	{Number: OP_ADD, Name: "add", Store: true},
	{Number: OP_SUB, Name: "sub", Store: true},
	{Number: OP_MUL, Name: "mul", Store: true},
	{Number: OP_DIV, Name: "div", Store: true},
	{Number: OP_MOD, Name: "mod", Store: true},

	{Number: OP_JZ, Name: "jz", Branch: true},
	{Number: OP_GET_SIBLING, Name: "get_sibling", Store: true, Branch: true},
	{Number: OP_GET_CHILD, Name: "get_child", Store: true, Branch: true},
	{Number: OP_GET_PARENT, Name: "get_parent", Store: true},
	{Number: OP_GET_PROP_LEN, Name: "get_prop_len", Store: true},
	{Number: OP_INC, Name: "inc", VarRef: true},
	{Number: OP_DEC, Name: "dec", VarRef: true},
	{Number: OP_PRINT_ADDR, Name: "print_addr"},
	{Number: OP_REMOVE_OBJ, Name: "remove_obj"},
	{Number: OP_PRINT_OBJ, Name: "print_obj"},
	{Number: OP_RET, Name: "ret"},
	{Number: OP_JUMP, Name: "jump"},
	{Number: OP_PRINT_PADDR, Name: "print_paddr"},
	{Number: OP_LOAD, Name: "load", Store: true, VarRef: true},
	{Number: OP_NOT, Name: "not", Store: true},

	{Number: OP_RTRUE, Name: "rtrue"},
	{Number: OP_RFALSE, Name: "rfalse"},
	{Number: OP_PRINT, Name: "print", Text: true},
	{Number: OP_PRINT_RET, Name: "print_ret", Text: true},
	{Number: OP_NOP, Name: "nop"},
	{Number: OP_SAVE, Name: "save", Branch: true},
	{Number: OP_RESTORE, Name: "restore", Branch: true},
	{Number: OP_RESTART, Name: "restart"},
	{Number: OP_RET_POPPED, Name: "ret_popped"},
	{Number: OP_POP, Name: "pop"},
	{Number: OP_QUIT, Name: "quit"},
	{Number: OP_NEW_LINE, Name: "new_line"},
	{Number: OP_SHOW_STATUS, Name: "show_status"},
	{Number: OP_VERIFY, Name: "verify", Branch: true},

	{Number: OP_CALL, Name: "call", Store: true},
	{Number: OP_STOREW, Name: "storew"},
	{Number: OP_STOREB, Name: "storeb"},
	{Number: OP_PUT_PROP, Name: "put_prop"},
	{Number: OP_SREAD, Name: "sread"},
	{Number: OP_PRINT_CHAR, Name: "print_char"},
	{Number: OP_PRINT_NUM, Name: "print_num"},
	{Number: OP_RANDOM, Name: "random", Store: true},
	{Number: OP_PUSH, Name: "push"},
	{Number: OP_PULL, Name: "pull", VarRef: true},
}

var (
	opcodesByNumber [256]*OpcodeInfo
	opcodesByName   = make(map[string]*OpcodeInfo, len(Opcodes))
)

func init() {
	for i := range Opcodes {
		op := &Opcodes[i]
		opcodesByNumber[op.Number] = op
		opcodesByName[op.Name] = op
	}
}

func OpcodeByNumber(number uint8) (OpcodeInfo, bool) {
	if op := opcodesByNumber[number]; op != nil {
		return *op, true
	}

	return OpcodeInfo{}, false
}

func OpcodeByName(name string) (OpcodeInfo, bool) {
	if op, ok := opcodesByName[strings.ToLower(name)]; ok {
		return *op, true
	}

	return OpcodeInfo{}, false
}
