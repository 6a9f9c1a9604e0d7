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
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/tliron/commonlog"

	"github.com/lassandro/goz3/pkg/encoding"
)

var log = commonlog.GetLogger("goz3.machine")

// Loads a story image and prepares the machine to run it from the header's
// initial program counter.
func New(image []byte, host Host, opts Options) (*Machine, error) {
	if host == nil {
		return nil, errors.New("machine needs a host")
	}

	header, err := ParseHeader(image)

	if err != nil {
		return nil, err
	}

	if opts.StackLimit <= 0 {
		opts.StackLimit = DEFAULT_STACK_LIMIT
	}

	// Frame records store the previous base in one word
	if opts.StackLimit > 0xFFFF {
		opts.StackLimit = 0xFFFF
	}

	seed := opts.Seed

	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	mc := &Machine{
		Host:     host,
		Header:   header,
		pristine: append([]byte(nil), image...),
		rng:      rand.New(rand.NewSource(seed)),
		opts:     opts,
	}

	if err := mc.load(); err != nil {
		return nil, err
	}

	log.Infof(
		"loaded story release %d serial %s (%d bytes)",
		header.Release, header.SerialString(), len(image),
	)

	return mc, nil
}

func (mc *Machine) load() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = asFault(r)
		}
	}()

	mc.Memory = NewMemory(mc.pristine)
	mc.Header.adjustFlags(mc.Memory)

	mc.Text, err = NewTextCodec(mc.Memory, mc.Header)

	if err != nil {
		return err
	}

	mc.Dict = LoadDictionary(mc.Memory, mc.Text, mc.Header.Dictionary)
	mc.Objects = NewObjectStore(mc.Memory, mc.Header)
	mc.Objects.observer = mc
	mc.Decoder = NewDecoder(mc.Memory, mc.Text)

	mc.reset()

	return nil
}

func (mc *Machine) reset() {
	mc.pc = mc.Header.InitialPC
	mc.stack = mc.stack[:0]
	mc.frameBase = 0
	mc.status = StatusRunning
	mc.input = inputRequest{}
	mc.current = nil
	mc.fault = nil
}

// Reloads the original story image and starts over.
func (mc *Machine) Restart() {
	copy(mc.Memory.Bytes(), mc.pristine)
	mc.Header.adjustFlags(mc.Memory)
	mc.Text.Purge()
	mc.reset()

	log.Info("restarted")
}

func (mc *Machine) Status() Status {
	return mc.status
}

// The fault that halted the machine, if any.
func (mc *Machine) Err() error {
	return mc.fault
}

func (mc *Machine) PC() uint32 {
	return mc.pc
}

// Moves the program counter. Only meaningful while stopped in a debugger.
func (mc *Machine) SetPC(pc uint32) {
	mc.pc = pc
}

// The instruction most recently executed.
func (mc *Machine) Current() *Instruction {
	return mc.current
}

// A copy of the whole word stack, frame records included.
func (mc *Machine) Stack() []uint16 {
	return append([]uint16(nil), mc.stack...)
}

// Stack index of the current routine's first local; 0 at top level.
func (mc *Machine) FrameBase() int {
	return mc.frameBase
}

// Number of routine frames on the stack.
func (mc *Machine) Depth() int {
	depth := 0

	for base := mc.frameBase; base > 0; depth++ {
		base = int(mc.stack[base-FRAME_RECORD_SIZE+3])
	}

	return depth
}

func (mc *Machine) localCount() int {
	if mc.frameBase == 0 {
		return 0
	}

	return int(mc.stack[mc.frameBase-1])
}

// The current routine's locals.
func (mc *Machine) Locals() []uint16 {
	count := mc.localCount()

	return append([]uint16(nil), mc.stack[mc.frameBase:mc.frameBase+count]...)
}

// Reads a global without popping or notifying the debugger.
func (mc *Machine) Global(n uint8) uint16 {
	return mc.Memory.Word(mc.globalAddr(n))
}

// Maximum number of letters the pending sread accepts.
func (mc *Machine) InputRequest() int {
	return mc.input.Max
}

// Executes one instruction and reports the resulting status. A fatal fault
// halts the machine and is returned as the error; stepping a halted machine
// returns ErrHalted.
func (mc *Machine) Step() (status Status, err error) {
	switch mc.status {
	case StatusHalted:
		return StatusHalted, ErrHalted
	case StatusAwaitingInput:
		return StatusAwaitingInput, nil
	}

	defer mc.recoverFault(&status, &err)

	mc.lastPC = mc.pc
	mc.current = nil

	in := mc.Decoder.Decode(mc.pc, mc.readVariable)
	handler := opcodeTable[in.Opcode]

	mc.current = in
	mc.pc = in.Next

	if least, _ := in.Info.Arity(); len(in.Values) < least {
		raise(
			ErrOperandCount,
			"%s takes %d, have %d", in.Info.Name, least, len(in.Values),
		)
	}

	handler(mc, in)

	mc.hook(func() { mc.Debugger.Step(mc) })

	return mc.status, nil
}

func (mc *Machine) recoverFault(status *Status, err *error) {
	r := recover()

	if r == nil {
		return
	}

	fault := asFault(r)
	fault.PC = mc.lastPC

	if mc.current != nil {
		fault.Opcode = mc.current.Opcode
		fault.Name = mc.current.Info.Name
	}

	log.Errorf("halted: %s", fault.Error())

	mc.status = StatusHalted
	mc.fault = fault

	*status = StatusHalted
	*err = fault
}

// Steps until the machine stops running or ctx is done.
func (mc *Machine) Run(ctx context.Context) (Status, error) {
	for {
		if err := ctx.Err(); err != nil {
			return mc.status, err
		}

		status, err := mc.Step()

		if err != nil || status != StatusRunning {
			return status, err
		}
	}
}

// Supplies the line a pending sread is waiting for. The line is folded to
// lower case, truncated to the buffer, tokenised, and written to the text
// and parse buffers.
func (mc *Machine) Resume(line string) (status Status, err error) {
	if mc.status != StatusAwaitingInput {
		return mc.status, ErrNotAwaitingInput
	}

	defer mc.recoverFault(&status, &err)

	text := NormalizeInput(line)

	if len(text) > mc.input.Max {
		text = text[:mc.input.Max]
	}

	for i := 0; i < len(text); i++ {
		mc.storeByte(mc.input.Text+1+uint32(i), uint16(text[i]))
	}

	mc.storeByte(mc.input.Text+1+uint32(len(text)), 0)

	tokens := mc.Dict.LexicalAnalysis(text)

	if limit := int(mc.loadByte(mc.input.Parse)); len(tokens) > limit {
		tokens = tokens[:limit]
	}

	mc.storeByte(mc.input.Parse+1, uint16(len(tokens)))

	for i, token := range tokens {
		addr := mc.input.Parse + PARSE_BLOCKS_OFFSET + PARSE_BLOCK_SIZE*uint32(i)

		mc.storeWord(addr, token.Entry)
		mc.storeByte(addr+2, uint16(token.Length))
		mc.storeByte(addr+3, uint16(token.Offset))
	}

	mc.input = inputRequest{}
	mc.status = StatusRunning

	return mc.status, nil
}

// Answers a pending sread with end of input. The machine halts cleanly.
func (mc *Machine) ResumeEOF() (Status, error) {
	if mc.status != StatusAwaitingInput {
		return mc.status, ErrNotAwaitingInput
	}

	log.Info("input exhausted")

	mc.status = StatusHalted

	return mc.status, nil
}

func (mc *Machine) loadByte(addr uint32) uint8 {
	value := mc.Memory.Byte(addr)
	mc.observeRead(addr, 1)

	return value
}

func (mc *Machine) loadWord(addr uint32) uint16 {
	value := mc.Memory.Word(addr)
	mc.observeRead(addr, 2)

	return value
}

func (mc *Machine) storeByte(addr uint32, value uint16) {
	mc.Memory.SetByte(addr, value)
	mc.observeWrite(addr, 1)
}

func (mc *Machine) storeWord(addr uint32, value uint16) {
	mc.Memory.SetWord(addr, value)
	mc.observeWrite(addr, 2)
}

// Reports each byte the story read to the debugger. Accesses made while a
// debugger hook runs belong to the debugger and are not reported.
func (mc *Machine) observeRead(addr uint32, size uint32) {
	mc.hook(func() {
		for i := uint32(0); i < size; i++ {
			mc.Debugger.Read(addr+i, mc)
		}
	})
}

func (mc *Machine) observeWrite(addr uint32, size uint32) {
	// Decoded strings are only cached at or above the static base
	if addr+size > mc.Header.StaticBase {
		mc.Text.Purge()
	}

	mc.hook(func() {
		for i := uint32(0); i < size; i++ {
			mc.Debugger.Write(addr+i, mc)
		}
	})
}

func (mc *Machine) hook(fn func()) {
	if mc.Debugger == nil || mc.inHook {
		return
	}

	mc.inHook = true
	defer func() { mc.inHook = false }()

	fn()
}

// Lowest stack index the current routine may pop down to.
func (mc *Machine) stackFloor() int {
	return mc.frameBase + mc.localCount()
}

func (mc *Machine) push(value uint16) {
	if len(mc.stack) >= mc.opts.StackLimit {
		raise(ErrStackOverflow, "limit is %d words", mc.opts.StackLimit)
	}

	mc.stack = append(mc.stack, value)
}

func (mc *Machine) pop() uint16 {
	top := len(mc.stack) - 1

	if top < mc.stackFloor() {
		raise(ErrStackUnderflow, "pop with empty evaluation stack")
	}

	value := mc.stack[top]
	mc.stack = mc.stack[:top]

	return value
}

func (mc *Machine) top() *uint16 {
	top := len(mc.stack) - 1

	if top < mc.stackFloor() {
		raise(ErrStackUnderflow, "peek with empty evaluation stack")
	}

	return &mc.stack[top]
}

func (mc *Machine) local(n uint8) *uint16 {
	if int(n) > mc.localCount() {
		raise(ErrInvalidVariable, "local %d of %d", n, mc.localCount())
	}

	return &mc.stack[mc.frameBase+int(n)-1]
}

func (mc *Machine) globalAddr(n uint8) uint32 {
	return mc.Header.Globals + 2*uint32(n-VAR_GLOBAL)
}

// Reads variable n. Variable 0 pops the stack.
func (mc *Machine) readVariable(n uint8) uint16 {
	switch {
	case n == VAR_STACK:
		return mc.pop()
	case n <= VAR_LOCAL_LAST:
		return *mc.local(n)
	}

	return mc.loadWord(mc.globalAddr(n))
}

// Writes variable n. Variable 0 pushes.
func (mc *Machine) writeVariable(n uint8, value uint16) {
	switch {
	case n == VAR_STACK:
		mc.push(value)
	case n <= VAR_LOCAL_LAST:
		*mc.local(n) = value
	default:
		mc.storeWord(mc.globalAddr(n), value)
	}
}

// Reads variable n for opcodes that name a variable: variable 0 is the top
// of the stack, read in place.
func (mc *Machine) peekVariable(n uint8) uint16 {
	if n == VAR_STACK {
		return *mc.top()
	}

	return mc.readVariable(n)
}

// Writes variable n for opcodes that name a variable: variable 0 replaces
// the top of the stack.
func (mc *Machine) pokeVariable(n uint8, value uint16) {
	if n == VAR_STACK {
		*mc.top() = value
		return
	}

	mc.writeVariable(n, value)
}

func (mc *Machine) storeResult(in *Instruction, value uint16) {
	mc.writeVariable(in.Store, value)
}

// Calls the routine at packed address with args; its result goes to
// variable store. Calling address 0 stores 0 and does nothing else.
func (mc *Machine) call(packed uint16, args []uint16, store uint8) {
	if packed == 0 {
		mc.writeVariable(store, 0)
		return
	}

	addr := uint32(packed) * PACKED_SCALE
	count := int(mc.Memory.Byte(addr))

	if count > MAX_LOCALS {
		raise(ErrBadRoutine, "routine %#05x declares %d locals", addr, count)
	}

	if len(mc.stack)+FRAME_RECORD_SIZE+count > mc.opts.StackLimit {
		raise(ErrStackOverflow, "call to %#05x", addr)
	}

	mc.stack = append(
		mc.stack,
		uint16(mc.pc>>16),
		uint16(mc.pc),
		uint16(store),
		uint16(mc.frameBase),
		uint16(count),
	)

	base := len(mc.stack)

	for i := 0; i < count; i++ {
		value := mc.Memory.Word(addr + 1 + 2*uint32(i))

		if i < len(args) {
			value = args[i]
		}

		mc.stack = append(mc.stack, value)
	}

	mc.frameBase = base
	mc.pc = addr + 1 + 2*uint32(count)

	log.Debugf("call %#05x with %d args, depth %d", addr, len(args), mc.Depth())
}

// Returns value from the current routine. Returning from the top level
// halts the machine.
func (mc *Machine) ret(value uint16) {
	if mc.frameBase == 0 {
		log.Debug("returned from top level")
		mc.status = StatusHalted
		return
	}

	record := mc.frameBase - FRAME_RECORD_SIZE

	pc := uint32(mc.stack[record])<<16 | uint32(mc.stack[record+1])
	store := uint8(mc.stack[record+2])
	prev := int(mc.stack[record+3])

	mc.stack = mc.stack[:record]
	mc.frameBase = prev
	mc.pc = pc

	log.Debugf("return %d to %#05x", value, pc)

	mc.writeVariable(store, value)
}

// Applies decoded branch data whose bytes end at next. Offsets 0 and 1
// return false and true instead of jumping.
func (mc *Machine) jumpBranch(onTrue bool, offset int16, next uint32, condition bool) {
	mc.pc = next

	if condition != onTrue {
		return
	}

	switch offset {
	case encoding.BRANCH_RFALSE:
		mc.ret(0)
	case encoding.BRANCH_RTRUE:
		mc.ret(1)
	default:
		mc.pc = uint32(int64(next) + int64(offset) - 2)
	}
}

func (mc *Machine) branch(in *Instruction, condition bool) {
	mc.jumpBranch(in.BranchOnTrue, in.BranchOffset, in.Next, condition)
}

// Takes the branch whose data starts at addr.
func (mc *Machine) branchAt(addr uint32, condition bool) {
	size := uint32(encoding.BranchSize(mc.Memory.Byte(addr)))
	onTrue, offset := encoding.DecodeBranch(mc.Memory.Slice(addr, size))

	mc.jumpBranch(onTrue, offset, addr+size, condition)
}

func (mc *Machine) shortName(obj uint16) string {
	addr, words := mc.Objects.ShortNameAddr(obj)

	if words == 0 {
		return ""
	}

	text, _ := mc.Text.Decode(addr)

	return text
}

func (mc *Machine) updateStatusLine() {
	location := ""

	if obj := mc.Global(VAR_LOCATION); obj != 0 {
		location = mc.shortName(obj)
	}

	mc.Host.SetStatusLine(
		location,
		int16(mc.Global(VAR_SCORE)),
		int16(mc.Global(VAR_MOVES)),
	)
}

// Captures everything needed to resume at pc.
func (mc *Machine) TakeSnapshot(pc uint32) *Snapshot {
	return &Snapshot{
		Release:  mc.Header.Release,
		Serial:   mc.Header.Serial,
		Checksum: mc.Header.Checksum,
		Memory:   mc.Memory.Slice(0, mc.Memory.Len()),
		PC:       pc,
		Stack:    mc.Stack(),
		Frame:    mc.frameBase,
	}
}

// Checks that snap was taken from this story.
func (mc *Machine) validateSnapshot(snap *Snapshot) error {
	switch {
	case snap == nil:
		return fmt.Errorf("no snapshot: %w", ErrSnapshotMismatch)
	case snap.Release != mc.Header.Release ||
		snap.Serial != mc.Header.Serial ||
		snap.Checksum != mc.Header.Checksum:
		return fmt.Errorf(
			"release %d serial %q: %w", snap.Release, snap.Serial,
			ErrSnapshotMismatch,
		)
	case uint32(len(snap.Memory)) != mc.Memory.Len():
		return fmt.Errorf(
			"memory is %d bytes, want %d: %w",
			len(snap.Memory), mc.Memory.Len(), ErrSnapshotMismatch,
		)
	case snap.PC >= mc.Memory.Len():
		return fmt.Errorf("pc %#05x: %w", snap.PC, ErrSnapshotMismatch)
	case snap.Frame < 0 || snap.Frame > len(snap.Stack) ||
		(snap.Frame > 0 && snap.Frame < FRAME_RECORD_SIZE):
		return fmt.Errorf("frame base %d: %w", snap.Frame, ErrSnapshotMismatch)
	}

	return nil
}

// Replaces memory and stack with snap and takes the saved branch as true.
func (mc *Machine) applySnapshot(snap *Snapshot) error {
	if err := mc.validateSnapshot(snap); err != nil {
		return err
	}

	copy(mc.Memory.Bytes(), snap.Memory)
	mc.Header.adjustFlags(mc.Memory)
	mc.Text.Purge()

	mc.stack = append(mc.stack[:0], snap.Stack...)
	mc.frameBase = snap.Frame

	mc.branchAt(snap.PC, true)

	return nil
}
