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
	"strconv"
	"time"

	"github.com/lassandro/goz3/pkg/encoding"
)

type opcodeHandler func(mc *Machine, in *Instruction)

var opcodeTable [256]opcodeHandler

// Built at startup and checked against the instruction set: every known
// opcode has a handler and nothing else does.
func init() {
	opcodeTable = [256]opcodeHandler{
		encoding.OP_JE:            opJE,
		encoding.OP_JL:            opJL,
		encoding.OP_JG:            opJG,
		encoding.OP_DEC_CHK:       opDecChk,
		encoding.OP_INC_CHK:       opIncChk,
		encoding.OP_JIN:           opJIN,
		encoding.OP_TEST:          opTest,
		encoding.OP_OR:            opOr,
		encoding.OP_AND:           opAnd,
		encoding.OP_TEST_ATTR:     opTestAttr,
		encoding.OP_SET_ATTR:      opSetAttr,
		encoding.OP_CLEAR_ATTR:    opClearAttr,
		encoding.OP_STORE:         opStore,
		encoding.OP_INSERT_OBJ:    opInsertObj,
		encoding.OP_LOADW:         opLoadW,
		encoding.OP_LOADB:         opLoadB,
		encoding.OP_GET_PROP:      opGetProp,
		encoding.OP_GET_PROP_ADDR: opGetPropAddr,
		encoding.OP_GET_NEXT_PROP: opGetNextProp,
		encoding.OP_ADD:           opAdd,
		encoding.OP_SUB:           opSub,
		encoding.OP_MUL:           opMul,
		encoding.OP_DIV:           opDiv,
		encoding.OP_MOD:           opMod,

		encoding.OP_JZ:           opJZ,
		encoding.OP_GET_SIBLING:  opGetSibling,
		encoding.OP_GET_CHILD:    opGetChild,
		encoding.OP_GET_PARENT:   opGetParent,
		encoding.OP_GET_PROP_LEN: opGetPropLen,
		encoding.OP_INC:          opInc,
		encoding.OP_DEC:          opDec,
		encoding.OP_PRINT_ADDR:   opPrintAddr,
		encoding.OP_REMOVE_OBJ:   opRemoveObj,
		encoding.OP_PRINT_OBJ:    opPrintObj,
		encoding.OP_RET:          opRet,
		encoding.OP_JUMP:         opJump,
		encoding.OP_PRINT_PADDR:  opPrintPaddr,
		encoding.OP_LOAD:         opLoad,
		encoding.OP_NOT:          opNot,

		encoding.OP_RTRUE:       opRTrue,
		encoding.OP_RFALSE:      opRFalse,
		encoding.OP_PRINT:       opPrint,
		encoding.OP_PRINT_RET:   opPrintRet,
		encoding.OP_NOP:         opNop,
		encoding.OP_SAVE:        opSave,
		encoding.OP_RESTORE:     opRestore,
		encoding.OP_RESTART:     opRestart,
		encoding.OP_RET_POPPED:  opRetPopped,
		encoding.OP_POP:         opPop,
		encoding.OP_QUIT:        opQuit,
		encoding.OP_NEW_LINE:    opNewLine,
		encoding.OP_SHOW_STATUS: opShowStatus,
		encoding.OP_VERIFY:      opVerify,

		encoding.OP_CALL:       opCall,
		encoding.OP_STOREW:     opStoreW,
		encoding.OP_STOREB:     opStoreB,
		encoding.OP_PUT_PROP:   opPutProp,
		encoding.OP_SREAD:      opSread,
		encoding.OP_PRINT_CHAR: opPrintChar,
		encoding.OP_PRINT_NUM:  opPrintNum,
		encoding.OP_RANDOM:     opRandom,
		encoding.OP_PUSH:       opPush,
		encoding.OP_PULL:       opPull,
	}

	for number := range opcodeTable {
		_, known := encoding.OpcodeByNumber(uint8(number))

		if known != (opcodeTable[number] != nil) {
			panic(fmt.Sprintf("opcode %d: handler table out of sync", number))
		}
	}
}

func signed(value uint16) int16 {
	return encoding.Signed(value)
}

// 2OP ################################

// je a b c d ?(label)
// Branches if a equals any of the others. With a alone it never branches.
func opJE(mc *Machine, in *Instruction) {
	a := in.Values[0]
	condition := false

	for _, b := range in.Values[1:] {
		if a == b {
			condition = true
			break
		}
	}

	mc.branch(in, condition)
}

// jl a b ?(label)
func opJL(mc *Machine, in *Instruction) {
	mc.branch(in, signed(in.Values[0]) < signed(in.Values[1]))
}

// jg a b ?(label)
func opJG(mc *Machine, in *Instruction) {
	mc.branch(in, signed(in.Values[0]) > signed(in.Values[1]))
}

// dec_chk (variable) value ?(label)
func opDecChk(mc *Machine, in *Instruction) {
	n := uint8(in.Values[0])
	value := signed(mc.peekVariable(n)) - 1

	mc.pokeVariable(n, uint16(value))
	mc.branch(in, value < signed(in.Values[1]))
}

// inc_chk (variable) value ?(label)
func opIncChk(mc *Machine, in *Instruction) {
	n := uint8(in.Values[0])
	value := signed(mc.peekVariable(n)) + 1

	mc.pokeVariable(n, uint16(value))
	mc.branch(in, value > signed(in.Values[1]))
}

// jin obj1 obj2 ?(label)
func opJIN(mc *Machine, in *Instruction) {
	obj, parent := in.Values[0], in.Values[1]

	if obj == 0 {
		mc.branch(in, parent == 0)
		return
	}

	mc.branch(in, mc.Objects.Parent(obj) == parent)
}

// test bitmap flags ?(label)
func opTest(mc *Machine, in *Instruction) {
	flags := in.Values[1]

	mc.branch(in, in.Values[0]&flags == flags)
}

// or a b -> (result)
func opOr(mc *Machine, in *Instruction) {
	mc.storeResult(in, in.Values[0]|in.Values[1])
}

// and a b -> (result)
func opAnd(mc *Machine, in *Instruction) {
	mc.storeResult(in, in.Values[0]&in.Values[1])
}

// test_attr object attribute ?(label)
func opTestAttr(mc *Machine, in *Instruction) {
	obj := in.Values[0]

	// Object 0 has no attributes
	if obj == 0 {
		mc.branch(in, false)
		return
	}

	mc.branch(in, mc.Objects.Attribute(obj, in.Values[1]))
}

// set_attr object attribute
func opSetAttr(mc *Machine, in *Instruction) {
	mc.Objects.SetAttribute(in.Values[0], in.Values[1])
}

// clear_attr object attribute
func opClearAttr(mc *Machine, in *Instruction) {
	mc.Objects.ClearAttribute(in.Values[0], in.Values[1])
}

// store (variable) value
func opStore(mc *Machine, in *Instruction) {
	mc.pokeVariable(uint8(in.Values[0]), in.Values[1])
}

// insert_obj object destination
func opInsertObj(mc *Machine, in *Instruction) {
	mc.Objects.Insert(in.Values[0], in.Values[1])
}

// loadw array word-index -> (result)
func opLoadW(mc *Machine, in *Instruction) {
	addr := in.Values[0] + 2*in.Values[1]

	mc.storeResult(in, mc.loadWord(uint32(addr)))
}

// loadb array byte-index -> (result)
func opLoadB(mc *Machine, in *Instruction) {
	addr := in.Values[0] + in.Values[1]

	mc.storeResult(in, uint16(mc.loadByte(uint32(addr))))
}

// get_prop object property -> (result)
func opGetProp(mc *Machine, in *Instruction) {
	mc.storeResult(in, mc.Objects.Property(in.Values[0], in.Values[1]))
}

// get_prop_addr object property -> (result)
func opGetPropAddr(mc *Machine, in *Instruction) {
	addr, _, ok := mc.Objects.PropertyAddr(in.Values[0], in.Values[1])

	if !ok {
		addr = 0
	}

	mc.storeResult(in, uint16(addr))
}

// get_next_prop object property -> (result)
func opGetNextProp(mc *Machine, in *Instruction) {
	obj, prop := in.Values[0], in.Values[1]

	if prop == 0 {
		mc.storeResult(in, mc.Objects.FirstProperty(obj))
		return
	}

	mc.storeResult(in, mc.Objects.PropertyAfter(obj, prop))
}

// add a b -> (result)
func opAdd(mc *Machine, in *Instruction) {
	mc.storeResult(in, uint16(signed(in.Values[0])+signed(in.Values[1])))
}

// sub a b -> (result)
func opSub(mc *Machine, in *Instruction) {
	mc.storeResult(in, uint16(signed(in.Values[0])-signed(in.Values[1])))
}

// mul a b -> (result)
func opMul(mc *Machine, in *Instruction) {
	mc.storeResult(in, uint16(signed(in.Values[0])*signed(in.Values[1])))
}

// div a b -> (result)
// Truncates toward zero.
func opDiv(mc *Machine, in *Instruction) {
	a, b := signed(in.Values[0]), signed(in.Values[1])

	if b == 0 {
		raise(ErrDivideByZero, "%d / 0", a)
	}

	mc.storeResult(in, uint16(a/b))
}

// mod a b -> (result)
// a - b*trunc(a/b): the sign follows a.
func opMod(mc *Machine, in *Instruction) {
	a, b := signed(in.Values[0]), signed(in.Values[1])

	if b == 0 {
		raise(ErrDivideByZero, "%d %% 0", a)
	}

	mc.storeResult(in, uint16(a%b))
}

// 1OP ################################

// jz a ?(label)
func opJZ(mc *Machine, in *Instruction) {
	mc.branch(in, in.Values[0] == 0)
}

// get_sibling object -> (result) ?(label)
func opGetSibling(mc *Machine, in *Instruction) {
	var sibling uint16

	if obj := in.Values[0]; obj != 0 {
		sibling = mc.Objects.Sibling(obj)
	}

	mc.storeResult(in, sibling)
	mc.branch(in, sibling != 0)
}

// get_child object -> (result) ?(label)
func opGetChild(mc *Machine, in *Instruction) {
	var child uint16

	if obj := in.Values[0]; obj != 0 {
		child = mc.Objects.Child(obj)
	}

	mc.storeResult(in, child)
	mc.branch(in, child != 0)
}

// get_parent object -> (result)
func opGetParent(mc *Machine, in *Instruction) {
	var parent uint16

	if obj := in.Values[0]; obj != 0 {
		parent = mc.Objects.Parent(obj)
	}

	mc.storeResult(in, parent)
}

// get_prop_len property-address -> (result)
func opGetPropLen(mc *Machine, in *Instruction) {
	mc.storeResult(in, mc.Objects.PropertyLength(uint32(in.Values[0])))
}

// inc (variable)
func opInc(mc *Machine, in *Instruction) {
	n := uint8(in.Values[0])

	mc.pokeVariable(n, uint16(signed(mc.peekVariable(n))+1))
}

// dec (variable)
func opDec(mc *Machine, in *Instruction) {
	n := uint8(in.Values[0])

	mc.pokeVariable(n, uint16(signed(mc.peekVariable(n))-1))
}

// print_addr byte-address-of-string
func opPrintAddr(mc *Machine, in *Instruction) {
	text, _ := mc.Text.Decode(uint32(in.Values[0]))

	mc.Host.Print(text)
}

// remove_obj object
func opRemoveObj(mc *Machine, in *Instruction) {
	mc.Objects.Remove(in.Values[0])
}

// print_obj object
func opPrintObj(mc *Machine, in *Instruction) {
	mc.Host.Print(mc.shortName(in.Values[0]))
}

// ret value
func opRet(mc *Machine, in *Instruction) {
	mc.ret(in.Values[0])
}

// jump ?(label)
// Unconditional; the operand is a signed offset, not branch data.
func opJump(mc *Machine, in *Instruction) {
	mc.pc = uint32(int64(in.Next) + int64(signed(in.Values[0])) - 2)
}

// print_paddr packed-address-of-string
func opPrintPaddr(mc *Machine, in *Instruction) {
	text, _ := mc.Text.Decode(uint32(in.Values[0]) * PACKED_SCALE)

	mc.Host.Print(text)
}

// load (variable) -> (result)
func opLoad(mc *Machine, in *Instruction) {
	mc.storeResult(in, mc.peekVariable(uint8(in.Values[0])))
}

// not value -> (result)
func opNot(mc *Machine, in *Instruction) {
	mc.storeResult(in, ^in.Values[0])
}

// 0OP ################################

// rtrue
func opRTrue(mc *Machine, in *Instruction) {
	mc.ret(1)
}

// rfalse
func opRFalse(mc *Machine, in *Instruction) {
	mc.ret(0)
}

// print (literal-string)
func opPrint(mc *Machine, in *Instruction) {
	mc.Host.Print(in.Text)
}

// print_ret (literal-string)
func opPrintRet(mc *Machine, in *Instruction) {
	mc.Host.Println(in.Text)
	mc.ret(1)
}

// nop
func opNop(mc *Machine, in *Instruction) {}

// save ?(label)
// The snapshot resumes at this instruction's branch data, which restore
// then takes as true.
func opSave(mc *Machine, in *Instruction) {
	err := mc.Host.Save(mc.TakeSnapshot(in.BranchAddr))

	if err != nil {
		log.Warningf("save failed: %s", err.Error())
		mc.Host.Notify("Save failed.")
		mc.branch(in, false)
		return
	}

	log.Info("game saved")
	mc.Host.Notify("Game saved.")
	mc.branch(in, true)
}

// restore ?(label)
// Only branches, false, on failure: success resumes at the save.
func opRestore(mc *Machine, in *Instruction) {
	snap, err := mc.Host.Restore()

	if err == nil {
		err = mc.applySnapshot(snap)
	}

	if err != nil {
		log.Warningf("restore failed: %s", err.Error())
		mc.Host.Notify("Restore failed.")
		mc.branch(in, false)
		return
	}

	log.Info("game restored")
	mc.Host.Notify("Game restored.")
}

// restart
func opRestart(mc *Machine, in *Instruction) {
	mc.Restart()
}

// ret_popped
func opRetPopped(mc *Machine, in *Instruction) {
	mc.ret(mc.pop())
}

// pop
func opPop(mc *Machine, in *Instruction) {
	mc.pop()
}

// quit
func opQuit(mc *Machine, in *Instruction) {
	log.Debug("quit")
	mc.status = StatusHalted
}

// new_line
func opNewLine(mc *Machine, in *Instruction) {
	mc.Host.Println("")
}

// show_status
func opShowStatus(mc *Machine, in *Instruction) {
	mc.updateStatusLine()
}

// verify ?(label)
func opVerify(mc *Machine, in *Instruction) {
	sum := Checksum(mc.pristine, mc.Header.FileLength)

	mc.branch(in, sum == mc.Header.Checksum)
}

// VAR ################################

// call routine ...0 to 3 args... -> (result)
func opCall(mc *Machine, in *Instruction) {
	mc.call(in.Values[0], in.Values[1:], in.Store)
}

// storew array word-index value
func opStoreW(mc *Machine, in *Instruction) {
	addr := in.Values[0] + 2*in.Values[1]

	mc.storeWord(uint32(addr), in.Values[2])
}

// storeb array byte-index value
func opStoreB(mc *Machine, in *Instruction) {
	addr := in.Values[0] + in.Values[1]

	mc.storeByte(uint32(addr), in.Values[2])
}

// put_prop object property value
func opPutProp(mc *Machine, in *Instruction) {
	mc.Objects.PutProperty(in.Values[0], in.Values[1], in.Values[2])
}

// sread text parse
// Suspends until the host calls Resume. Byte 0 of the text buffer holds
// the letter limit plus one.
func opSread(mc *Machine, in *Instruction) {
	text, parse := uint32(in.Values[0]), uint32(in.Values[1])
	size := int(mc.loadByte(text))

	if size == 0 {
		raise(ErrInputBuffer, "text buffer at %#05x has size 0", text)
	}

	mc.updateStatusLine()

	mc.input = inputRequest{Text: text, Parse: parse, Max: size - 1}
	mc.status = StatusAwaitingInput
}

// print_char output-character-code
func opPrintChar(mc *Machine, in *Instruction) {
	mc.Host.Print(encoding.ZSCIIToText(in.Values[0]))
}

// print_num value
func opPrintNum(mc *Machine, in *Instruction) {
	mc.Host.Print(strconv.Itoa(int(signed(in.Values[0]))))
}

// random range -> (result)
// A positive range gives 1..range. Zero reseeds from the clock and a
// negative range reseeds with its magnitude; both give 0.
func opRandom(mc *Machine, in *Instruction) {
	limit := signed(in.Values[0])

	switch {
	case limit > 0:
		mc.storeResult(in, uint16(1+mc.rng.Intn(int(limit))))
	case limit == 0:
		mc.rng.Seed(time.Now().UnixNano())
		mc.storeResult(in, 0)
	default:
		mc.rng.Seed(-int64(limit))
		mc.storeResult(in, 0)
	}
}

// push value
func opPush(mc *Machine, in *Instruction) {
	mc.push(in.Values[0])
}

// pull (variable)
func opPull(mc *Machine, in *Instruction) {
	value := mc.pop()

	mc.pokeVariable(uint8(in.Values[0]), value)
}
