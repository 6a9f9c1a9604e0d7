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

package machine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lassandro/goz3/pkg/assembler"
	"github.com/lassandro/goz3/pkg/encoding"
	"github.com/lassandro/goz3/pkg/machine"
)

// Records everything the machine tells its host.
type testHost struct {
	Output   strings.Builder
	Prints   int
	Statuses []string
	Notices  []string

	saved    *machine.Snapshot
	restores int
	saveErr  error
}

func (h *testHost) Print(text string) {
	h.Prints++
	h.Output.WriteString(text)
}

func (h *testHost) Println(text string) {
	h.Prints++
	h.Output.WriteString(text)
	h.Output.WriteByte('\n')
}

func (h *testHost) SetStatusLine(location string, score int16, moves int16) {
	h.Statuses = append(h.Statuses, fmt.Sprintf("%s %d/%d", location, score, moves))
}

func (h *testHost) Save(snap *machine.Snapshot) error {
	if h.saveErr != nil {
		return h.saveErr
	}

	h.saved = snap

	return nil
}

// Hands back the saved game once, then fails.
func (h *testHost) Restore() (*machine.Snapshot, error) {
	h.restores++

	if h.saved == nil || h.restores > 1 {
		return nil, errors.New("nothing saved")
	}

	return h.saved, nil
}

func (h *testHost) Notify(message string) {
	h.Notices = append(h.Notices, message)
}

func assemble(t *testing.T, source string) []byte {
	t.Helper()

	image, errs := assembler.AssembleStory(strings.NewReader(source), nil)

	if len(errs) > 0 {
		t.Fatalf("Story failed to assemble\nwant:<nil>\nhave:%v", errs[0])
	}

	return image
}

func newMachine(t *testing.T, image []byte) (*machine.Machine, *testHost) {
	t.Helper()

	host := &testHost{}
	mc, err := machine.New(image, host, machine.Options{Seed: 1})

	require.NoError(t, err)

	return mc, host
}

func run(t *testing.T, source string) (*machine.Machine, *testHost, error) {
	t.Helper()

	mc, host := newMachine(t, assemble(t, source))
	_, err := mc.Run(context.Background())

	return mc, host, err
}

const resultGlobal = 0x10

type testCase struct {
	Name   string
	Input  string
	Result uint16
	Output string
}

func testMachineSuccess(t *testing.T, test *testCase) {
	mc, host, err := run(t, test.Input)

	require.NoError(t, err)

	if status := mc.Status(); status != machine.StatusHalted {
		t.Fatalf("Machine did not halt\nwant:%s\nhave:%s", machine.StatusHalted, status)
	}

	if have := mc.Global(resultGlobal); have != test.Result {
		t.Fatalf(
			"Result mismatch\nwant:%#04x (test.Result)\nhave:%#04x",
			test.Result,
			have,
		)
	}

	if have := host.Output.String(); have != test.Output {
		t.Fatalf("Output mismatch\nwant:%q (test.Output)\nhave:%q", test.Output, have)
	}
}

func testSuccess(t *testing.T, tests []testCase) {
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			testMachineSuccess(t, &test)
		})
	}
}

// Wraps a single instruction storing into the result global.
func storing(instruction string) string {
	return fmt.Sprintf(".global result\n.start\n%s -> result\nquit\n", instruction)
}

// Wraps a single branch instruction: result is 2 when taken, 1 otherwise.
func branching(instruction string) string {
	return fmt.Sprintf(
		".global result\n.start\n%s ?yes\nstore result 1\nquit\n"+
			"yes\nstore result 2\nquit\n",
		instruction,
	)
}

func TestPrintQuit(t *testing.T) {
	mc, host, err := run(t, `
	.start
		print "Hello."
		quit
	`)

	require.NoError(t, err)
	assert.Equal(t, machine.StatusHalted, mc.Status())
	assert.Equal(t, "Hello.", host.Output.String())
	assert.Equal(t, 1, host.Prints)
	assert.NoError(t, mc.Err())

	_, err = mc.Step()
	assert.ErrorIs(t, err, machine.ErrHalted)
}

func TestImplicitReturn(t *testing.T) {
	mc, host, err := run(t, `
	.start
		print_ret "Bye."
	`)

	require.NoError(t, err)
	assert.Equal(t, machine.StatusHalted, mc.Status())
	assert.Equal(t, "Bye.\n", host.Output.String())
	assert.Equal(t, 1, host.Prints)
}

func TestArithmetic(t *testing.T) {
	testSuccess(t, []testCase{
		{Name: "Add Overflow", Input: storing("add 0x7FFF 1"), Result: 0x8000},
		{Name: "Sub Underflow", Input: storing("sub 0 1"), Result: 0xFFFF},
		{Name: "Mul Signed", Input: storing("mul -2 3"), Result: 0xFFFA},
		{Name: "Div Truncates", Input: storing("div -7 2"), Result: 0xFFFD},
		{Name: "Mod Follows Dividend", Input: storing("mod -7 2"), Result: 0xFFFF},
		{Name: "Mod Negative Divisor", Input: storing("mod 7 -2"), Result: 1},
		{Name: "And", Input: storing("and 0xF0F0 0xFF00"), Result: 0xF000},
		{Name: "Or", Input: storing("or 0xF0F0 0x0F00"), Result: 0xFFF0},
		{Name: "Not", Input: storing("not 0x00FF"), Result: 0xFF00},
		{Name: "Loadb", Input: "buf .bytes 7 9\n" + storing("loadb buf 1"), Result: 9},
		{Name: "Loadw", Input: "buf .words 7 0x1234\n" + storing("loadw buf 1"), Result: 0x1234},
	})
}

func TestDivideByZero(t *testing.T) {
	for _, op := range []string{"div", "mod"} {
		t.Run(op, func(t *testing.T) {
			mc, _, err := run(t, storing(op+" 1 0"))

			require.ErrorIs(t, err, machine.ErrDivideByZero)
			assert.Equal(t, machine.StatusHalted, mc.Status())
			assert.ErrorIs(t, mc.Err(), machine.ErrDivideByZero)

			var fault *machine.Fault
			require.ErrorAs(t, err, &fault)
			assert.Equal(t, op, fault.Name)
			assert.Equal(t, mc.Header.InitialPC, fault.PC)
		})
	}
}

func TestBranch(t *testing.T) {
	testSuccess(t, []testCase{
		{Name: "je Equal", Input: branching("je 5 5"), Result: 2},
		{Name: "je Any", Input: branching("je 5 1 2 5"), Result: 2},
		{Name: "je None", Input: branching("je 5 1 2 3"), Result: 1},
		{Name: "jl Signed", Input: branching("jl -1 0"), Result: 2},
		{Name: "jl False", Input: branching("jl 3 3"), Result: 1},
		{Name: "jg Signed", Input: branching("jg 1 -1"), Result: 2},
		{Name: "jz", Input: branching("jz 0"), Result: 2},
		{Name: "jz Nonzero", Input: branching("jz 1"), Result: 1},
		{Name: "test All Set", Input: branching("test 0x0F 0x05"), Result: 2},
		{Name: "test Missing", Input: branching("test 0x0A 0x05"), Result: 1},
		{
			Name:   "Negated",
			Input:  ".global result\n.start\njz 1 ?~yes\nquit\nyes\nstore result 2\nquit\n",
			Result: 2,
		},
		{
			Name: "inc_chk",
			Input: `
			.global result
			.start
			loop
				inc_chk result 4 ?done
				jump loop
			done
				quit
			`,
			Result: 5,
		},
		{
			Name: "dec_chk",
			Input: `
			.global result 3
			.start
			loop
				dec_chk result 0 ?done
				jump loop
			done
				quit
			`,
			Result: 0xFFFF,
		},
	})
}

func TestCall(t *testing.T) {
	testSuccess(t, []testCase{
		{
			Name: "Arguments and Defaults",
			Input: `
			.global result
			.start
				call add3 1 2 -> result
				quit
			add3 .routine 3 0 0 100
				add l1 l2 -> sp
				add sp l3 -> sp
				ret_popped
			`,
			Result: 103,
		},
		{
			Name: "Nested",
			Input: `
			.global result
			.start
				call outer 4 -> result
				quit
			outer .routine 1
				call double l1 -> l1
				call double l1 -> sp
				ret sp
			double .routine 1
				add l1 l1 -> sp
				ret_popped
			`,
			Result: 16,
		},
		{
			Name: "Call Zero",
			Input: `
			.global result 9
			.start
				call 0 -> result
				quit
			`,
			Result: 0,
		},
		{
			Name: "rtrue and rfalse",
			Input: `
			.global result
			.start
				call yes -> sp
				call no -> sp
				add sp sp -> result
				quit
			yes .routine 0
				rtrue
			no .routine 0
				rfalse
			`,
			Result: 1,
		},
		{
			Name: "Branch Returns",
			Input: `
			.global result
			.start
				call check 0 -> result
				quit
			check .routine 1
				jz l1 ?rtrue
				rfalse
			`,
			Result: 1,
		},
	})
}

func TestStack(t *testing.T) {
	testSuccess(t, []testCase{
		{
			Name: "Push Pull",
			Input: `
			.global result
			.start
				push 5
				push 6
				pull result
				pop
				quit
			`,
			Result: 6,
		},
		{
			Name: "Indirect Stack Reference",
			Input: `
			.global result
			.start
				push 5
				inc sp
				load sp -> result
				quit
			`,
			Result: 6,
		},
		{
			Name: "Store Replaces Top",
			Input: `
			.global result
			.start
				push 1
				push 2
				store sp 7
				add sp sp -> result
				quit
			`,
			Result: 8,
		},
	})

	t.Run("Underflow", func(t *testing.T) {
		mc, _, err := run(t, ".start\npop\nquit\n")

		require.ErrorIs(t, err, machine.ErrStackUnderflow)
		assert.Equal(t, machine.StatusHalted, mc.Status())
	})

	t.Run("Routine Cannot Pop Caller", func(t *testing.T) {
		_, _, err := run(t, `
		.start
			push 1
			call grab -> sp
			quit
		grab .routine 0
			ret_popped
		`)

		require.ErrorIs(t, err, machine.ErrStackUnderflow)
	})

	t.Run("Overflow", func(t *testing.T) {
		image := assemble(t, `
		.start
		loop
			push 1
			jump loop
		`)

		mc, err := machine.New(image, &testHost{}, machine.Options{StackLimit: 64})
		require.NoError(t, err)

		_, err = mc.Run(context.Background())
		require.ErrorIs(t, err, machine.ErrStackOverflow)
		assert.Len(t, mc.Stack(), 64)
	})
}

const objectStory = `
.default 2 0x0BAD
room .object "room"
a .object "apple" room
b .object "ball" room
c .object "cup" room
thing .object "thing"
	.prop 7 0x11
	.propw 3 0x2222
	.prop 1 0x33
.global result
.start
	quit
`

const (
	objRoom uint16 = iota + 1
	objA
	objB
	objC
	objThing
)

func TestObjectTree(t *testing.T) {
	mc, _ := newMachine(t, assemble(t, objectStory))
	objects := mc.Objects

	assert.Equal(t, uint16(5), objects.Count())
	assert.Equal(t, objA, objects.Child(objRoom))
	assert.Equal(t, objB, objects.Sibling(objA))
	assert.Equal(t, objC, objects.Sibling(objB))
	assert.Equal(t, uint16(0), objects.Sibling(objC))

	objects.Remove(objB)

	assert.Equal(t, objA, objects.Child(objRoom))
	assert.Equal(t, objC, objects.Sibling(objA))
	assert.Equal(t, uint16(0), objects.Parent(objB))
	assert.Equal(t, uint16(0), objects.Sibling(objB))

	objects.Insert(objB, objThing)

	assert.Equal(t, objB, objects.Child(objThing))
	assert.Equal(t, objThing, objects.Parent(objB))

	objects.Insert(objA, objThing)

	assert.Equal(t, objA, objects.Child(objThing))
	assert.Equal(t, objB, objects.Sibling(objA))
	assert.Equal(t, objC, objects.Child(objRoom))

	err := machine.Guard(func() { objects.Insert(objA, objA) })
	assert.ErrorIs(t, err, machine.ErrMalformedObjectTree)

	err = machine.Guard(func() { objects.Parent(0) })
	assert.ErrorIs(t, err, machine.ErrInvalidObject)

	// One past the last object lands in property data
	before := append([]byte(nil), mc.Memory.Bytes()...)
	err = machine.Guard(func() { objects.SetAttribute(objThing+1, 0) })
	assert.ErrorIs(t, err, machine.ErrInvalidObject)
	assert.Equal(t, before, mc.Memory.Bytes())
}

// Counts every byte the story reads and writes.
type accessRecorder struct {
	Reads  map[uint32]int
	Writes map[uint32]int
}

func newAccessRecorder() *accessRecorder {
	return &accessRecorder{Reads: map[uint32]int{}, Writes: map[uint32]int{}}
}

func (r *accessRecorder) Step(mc *machine.Machine) {}

func (r *accessRecorder) Read(addr uint32, mc *machine.Machine) {
	r.Reads[addr]++
}

func (r *accessRecorder) Write(addr uint32, mc *machine.Machine) {
	r.Writes[addr]++
}

func TestObjectAccessHooks(t *testing.T) {
	source := strings.Replace(
		objectStory,
		"\tquit\n",
		"insert_obj b thing\nset_attr thing 3\nput_prop thing 3 0x1234\nquit\n",
		1,
	)

	mc, _ := newMachine(t, assemble(t, source))
	entry := func(obj uint16) uint32 {
		return mc.Header.ObjectTable + 31*2 + 9*uint32(obj-1)
	}

	prop, size, ok := mc.Objects.PropertyAddr(objThing, 3)
	require.True(t, ok)
	require.Equal(t, uint8(2), size)

	recorder := newAccessRecorder()
	mc.Debugger = recorder

	_, err := mc.Run(context.Background())
	require.NoError(t, err)

	tests := []struct {
		Name string
		Addr uint32
	}{
		{"Parent of b", entry(objB) + 4},
		{"Sibling of a", entry(objA) + 5},
		{"Child of thing", entry(objThing) + 6},
		{"Attributes of thing", entry(objThing)},
		{"Property high byte", prop},
		{"Property low byte", prop + 1},
	}

	for _, test := range tests {
		if recorder.Writes[test.Addr] == 0 {
			t.Errorf("%s not reported\nwant:write to %#05x\nhave:%v", test.Name, test.Addr, recorder.Writes)
		}
	}

	assert.NotZero(t, recorder.Reads[entry(objB)+4])
	assert.Equal(t, uint16(0x1234), mc.Objects.Property(objThing, 3))
}

func TestAttributes(t *testing.T) {
	mc, _ := newMachine(t, assemble(t, objectStory))
	objects := mc.Objects

	for attr := uint16(0); attr <= 31; attr++ {
		objects.SetAttribute(objThing, attr)

		for other := uint16(0); other <= 31; other++ {
			if have := objects.Attribute(objThing, other); have != (other == attr) {
				t.Fatalf(
					"Attribute %d after setting %d\nwant:%v\nhave:%v",
					other, attr, other == attr, have,
				)
			}
		}

		objects.ClearAttribute(objThing, attr)
		require.False(t, objects.Attribute(objThing, attr))
	}

	err := machine.Guard(func() { objects.SetAttribute(objThing, 32) })
	assert.ErrorIs(t, err, machine.ErrInvalidAttribute)
}

func TestProperties(t *testing.T) {
	mc, _ := newMachine(t, assemble(t, objectStory))
	objects := mc.Objects

	assert.Equal(t, []uint16{7, 3, 1}, objects.Properties(objThing))
	assert.Equal(t, uint16(0x11), objects.Property(objThing, 7))
	assert.Equal(t, uint16(0x2222), objects.Property(objThing, 3))
	assert.Equal(t, uint16(0x33), objects.Property(objThing, 1))
	assert.Equal(t, uint16(0x0BAD), objects.Property(objThing, 2))

	_, _, ok := objects.PropertyAddr(objThing, 2)
	assert.False(t, ok)

	addr, size, ok := objects.PropertyAddr(objThing, 3)
	require.True(t, ok)
	assert.Equal(t, uint8(2), size)
	assert.Equal(t, uint16(2), objects.PropertyLength(addr))
	assert.Equal(t, uint16(0), objects.PropertyLength(0))

	assert.Equal(t, uint16(7), objects.FirstProperty(objThing))
	assert.Equal(t, uint16(3), objects.PropertyAfter(objThing, 7))
	assert.Equal(t, uint16(1), objects.PropertyAfter(objThing, 3))
	assert.Equal(t, uint16(0), objects.PropertyAfter(objThing, 1))
	assert.Equal(t, uint16(0), objects.FirstProperty(objRoom))

	objects.PutProperty(objThing, 3, 0xBEEF)
	assert.Equal(t, uint16(0xBEEF), objects.Property(objThing, 3))

	err := machine.Guard(func() { objects.PutProperty(objThing, 2, 1) })
	assert.ErrorIs(t, err, machine.ErrNoProperty)

	err = machine.Guard(func() { objects.Property(objThing, 0) })
	assert.ErrorIs(t, err, machine.ErrInvalidProperty)
}

func TestObjectOpcodes(t *testing.T) {
	withObjects := func(body string) string {
		return strings.Replace(objectStory, "\tquit\n", body, 1)
	}

	testSuccess(t, []testCase{
		{
			Name:   "get_parent",
			Input:  withObjects("get_parent c -> result\nquit\n"),
			Result: objRoom,
		},
		{
			Name:   "get_child",
			Input:  withObjects("get_child room -> result ?~bad\nquit\nbad\nstore result 99\nquit\n"),
			Result: objA,
		},
		{
			Name:   "get_sibling End",
			Input:  withObjects("get_sibling c -> result ?bad\nquit\nbad\nstore result 99\nquit\n"),
			Result: 0,
		},
		{
			Name:   "get_parent Zero",
			Input:  withObjects("get_parent 0 -> result\nquit\n"),
			Result: 0,
		},
		{
			Name:   "jin",
			Input:  withObjects("jin b room ?yes\nquit\nyes\nstore result 2\nquit\n"),
			Result: 2,
		},
		{
			Name:   "test_attr",
			Input:  withObjects("set_attr thing 12\ntest_attr thing 12 ?yes\nquit\nyes\nstore result 2\nquit\n"),
			Result: 2,
		},
		{
			Name:   "insert_obj",
			Input:  withObjects("insert_obj c thing\nget_child thing -> result ?ok\nok\nquit\n"),
			Result: objC,
		},
		{
			Name:   "remove_obj",
			Input:  withObjects("remove_obj a\nget_child room -> result ?ok\nok\nquit\n"),
			Result: objB,
		},
		{
			Name:   "get_prop Default",
			Input:  withObjects("get_prop thing 2 -> result\nquit\n"),
			Result: 0x0BAD,
		},
		{
			Name:   "put_prop",
			Input:  withObjects("put_prop thing 1 0x44\nget_prop thing 1 -> result\nquit\n"),
			Result: 0x44,
		},
		{
			Name:   "get_next_prop",
			Input:  withObjects("get_next_prop thing 0 -> sp\nget_next_prop thing sp -> result\nquit\n"),
			Result: 3,
		},
		{
			Name:   "get_prop_len",
			Input:  withObjects("get_prop_addr thing 3 -> sp\nget_prop_len sp -> result\nquit\n"),
			Result: 2,
		},
		{
			Name:   "get_prop_addr Missing",
			Input:  withObjects("store result 5\nget_prop_addr thing 9 -> result\nquit\n"),
			Result: 0,
		},
		{
			Name:   "print_obj",
			Input:  withObjects("print_obj a\nquit\n"),
			Output: "apple",
		},
	})
}

func TestText(t *testing.T) {
	testSuccess(t, []testCase{
		{
			Name:   "print_num",
			Input:  ".start\nprint_num -5\nprint_num 12\nquit\n",
			Output: "-512",
		},
		{
			Name:   "print_char",
			Input:  ".start\nprint_char 65\nprint_char 13\nprint_char 0\nquit\n",
			Output: "A\n",
		},
		{
			Name:   "print_paddr",
			Input:  ".start\nprint_paddr msg\nnew_line\nquit\nmsg .string \"Hello, World!\"\n",
			Output: "Hello, World!\n",
		},
		{
			Name: "Rewritten String",
			Input: ".start\nprint_paddr msg\nnew_line\nmul msg 2 -> sp\n" +
				"storew sp 0 0xF7DF\nprint_paddr msg\nquit\nmsg .string \"hello\"\n",
			Output: "hello\nxyz",
		},
		{
			Name:   "Abbreviations",
			Input:  ".abbrev \"the\"\n.abbrev \" cat\"\n.start\nprint \"the cat sat on the mat\"\nquit\n",
			Output: "the cat sat on the mat",
		},
		{
			Name:   "Literal Characters",
			Input:  ".start\nprint \"50% off @ {shop}\"\nquit\n",
			Output: "50% off @ {shop}",
		},
	})
}

func TestTextRoundTrip(t *testing.T) {
	mc, _ := newMachine(t, assemble(t, ".start\nquit\n"))
	addr := mc.Header.Globals

	for _, word := range []string{"the", "a.b", "x", "zork"} {
		t.Run(word, func(t *testing.T) {
			encoded := encoding.EncodeDictWord(word)

			mc.Memory.SetWord(addr, encoded[0])
			mc.Memory.SetWord(addr+2, encoded[1])

			have, next := mc.Text.Decode(addr)

			if have != word {
				t.Fatalf("Decoded text mismatch\nwant:%q\nhave:%q", word, have)
			}

			assert.Equal(t, addr+4, next)
		})
	}
}

func TestJeOperandCount(t *testing.T) {
	image := assemble(t, ".start\nje 5 5 ?rtrue\nquit\n")
	pc := uint32(encoding.Word(image, 0x06))

	// Long form je with two small constants and a one-byte branch
	require.Equal(t, []byte{0x01, 0x05, 0x05, 0xC1}, image[pc:pc+4])

	// The same instruction in variable form with the second operand omitted
	copy(image[pc:], []byte{0xC1, 0x7F, 0x05, 0xC1})

	mc, _ := newMachine(t, image)
	_, err := mc.Run(context.Background())

	require.ErrorIs(t, err, machine.ErrOperandCount)

	var fault *machine.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "je", fault.Name)
	assert.Equal(t, pc, fault.PC)
}

func TestNestedAbbreviation(t *testing.T) {
	image := assemble(t, `
	.abbrev "xx"
	.start
		print "xx"
		quit
	`)

	// Point abbreviation 0 at itself
	abbr := uint32(encoding.Word(image, 0x40)) * 2
	encoding.PutWord(image, abbr, 0x8405)

	mc, _ := newMachine(t, image)
	_, err := mc.Run(context.Background())

	require.ErrorIs(t, err, machine.ErrNestedAbbreviation)
	assert.Equal(t, machine.StatusHalted, mc.Status())
}

func TestInvalidOpcodes(t *testing.T) {
	type opcodeCase struct {
		Name  string
		Byte  uint8
		Error error
	}

	tests := []opcodeCase{
		{Name: "Extended", Byte: 0xBE, Error: machine.ErrExtendedForm},
		{Name: "Unknown 0OP", Byte: 0xBF, Error: machine.ErrUnknownOpcode},
		{Name: "Unknown 1OP", Byte: 0x88, Error: machine.ErrUnknownOpcode},
		{Name: "Unknown 2OP", Byte: 0x00, Error: machine.ErrUnknownOpcode},
		{Name: "Unknown VAR", Byte: 0xFF, Error: machine.ErrUnknownOpcode},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			image := assemble(t, ".start\nnop\nquit\n")
			image[encoding.Word(image, 0x06)] = test.Byte

			mc, _ := newMachine(t, image)
			_, err := mc.Run(context.Background())

			require.ErrorIs(t, err, test.Error)
			assert.Equal(t, machine.StatusHalted, mc.Status())
		})
	}
}

const inputStory = `
.dict "look" "lamp"
text  .bytes 11
      .buffer 11
parse .bytes 4 0
      .buffer 16
.start
	sread text parse
	quit
`

func TestInput(t *testing.T) {
	mc, host := newMachine(t, assemble(t, inputStory))

	status, err := mc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, machine.StatusAwaitingInput, status)
	assert.Equal(t, 10, mc.InputRequest())
	assert.Equal(t, []string{" 0/0"}, host.Statuses)

	_, err = mc.Step()
	require.NoError(t, err, "stepping while waiting is a no-op")

	status, err = mc.Resume("Look, LAMP and more\n")
	require.NoError(t, err)
	require.Equal(t, machine.StatusRunning, status)

	sread := mc.Current()
	require.NotNil(t, sread)

	text, parse := uint32(sread.Values[0]), uint32(sread.Values[1])

	stored := mc.Memory.Slice(text+1, 11)
	assert.Equal(t, "look, lamp\x00", string(stored))

	look := mc.Dict.Lookup(encoding.EncodeDictWord("look"))
	lamp := mc.Dict.Lookup(encoding.EncodeDictWord("lamp"))
	require.NotZero(t, look)
	require.NotZero(t, lamp)

	type block struct {
		Entry  uint16
		Length uint8
		Offset uint8
	}

	want := []block{{look, 4, 1}, {0, 1, 5}, {lamp, 4, 7}}

	require.Equal(t, uint8(3), mc.Memory.Byte(parse+1))

	for i, w := range want {
		addr := parse + 2 + 4*uint32(i)
		have := block{
			mc.Memory.Word(addr), mc.Memory.Byte(addr + 2), mc.Memory.Byte(addr + 3),
		}

		assert.Equal(t, w, have, "parse block %d", i)
	}

	status, err = mc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, machine.StatusHalted, status)

	_, err = mc.Resume("again")
	assert.ErrorIs(t, err, machine.ErrNotAwaitingInput)
}

func TestInputEOF(t *testing.T) {
	mc, _ := newMachine(t, assemble(t, inputStory))

	status, err := mc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, machine.StatusAwaitingInput, status)

	status, err = mc.ResumeEOF()
	require.NoError(t, err)
	assert.Equal(t, machine.StatusHalted, status)
	assert.NoError(t, mc.Err())
}

func TestInputBufferSize(t *testing.T) {
	_, _, err := run(t, `
	text  .bytes 0
	parse .bytes 4 0
	.start
		sread text parse
		quit
	`)

	require.ErrorIs(t, err, machine.ErrInputBuffer)
}

func TestSplit(t *testing.T) {
	mc, _ := newMachine(t, assemble(t, inputStory))

	tokens := mc.Dict.Split("  open door,then\"go\" ")

	var have []string
	for _, token := range tokens {
		have = append(have, fmt.Sprintf("%s@%d+%d", token.Text, token.Offset, token.Length))
	}

	assert.Equal(t, []string{
		"open@3+4", "door@8+4", ",@12+1", "then@13+4", "\"@17+1", "go@18+2", "\"@20+1",
	}, have)

	assert.True(t, mc.Dict.Sorted())
	assert.Equal(t, uint16(2), mc.Dict.Count)
	assert.Equal(t, "lamp", mc.Dict.Word(0))
}

func TestNormalizeInput(t *testing.T) {
	tests := map[string]string{
		"LOOK\r\n":    "look",
		"  Café":      "  cafe",
		"ÀB\tc":       "ab c",
		"naïve ☃ guy": "naive  guy",
	}

	for input, want := range tests {
		assert.Equal(t, want, machine.NormalizeInput(input), "input %q", input)
	}
}

const saveStory = `
.global result
.start
	store result 5
	save ?ok
	print "save failed"
	quit
ok
	print_num result
	store result 7
	restore ?~failed
	quit
failed
	print_num result
	quit
`

func TestSaveRestore(t *testing.T) {
	mc, host, err := run(t, saveStory)

	require.NoError(t, err)
	assert.Equal(t, "557", host.Output.String())
	assert.Equal(t, []string{"Game saved.", "Game restored.", "Restore failed."}, host.Notices)
	assert.Equal(t, uint16(7), mc.Global(resultGlobal))

	require.NotNil(t, host.saved)
	assert.Equal(t, mc.Header.Serial, host.saved.Serial)
	assert.Equal(t, mc.Header.Release, host.saved.Release)
}

func TestSaveFailure(t *testing.T) {
	mc, host := newMachine(t, assemble(t, saveStory))
	host.saveErr = errors.New("disk full")

	_, err := mc.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "save failed", host.Output.String())
	assert.Equal(t, []string{"Save failed."}, host.Notices)
}

func TestSnapshotValidation(t *testing.T) {
	image := assemble(t, `
	.start
	top
		restore ?~bad
		quit
	bad
		print "bad"
		quit
	`)

	mc, host := newMachine(t, image)
	other, _ := newMachine(t, assemble(t, ".serial \"999999\"\n.start\nquit\n"))
	host.saved = other.TakeSnapshot(other.Header.InitialPC)

	_, err := mc.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "bad", host.Output.String())
	assert.Equal(t, []string{"Restore failed."}, host.Notices)
}

func TestRandom(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		image := assemble(t, storing("random 6"))
		mc, err := machine.New(image, &testHost{}, machine.Options{Seed: seed})
		require.NoError(t, err)

		_, err = mc.Run(context.Background())
		require.NoError(t, err)

		value := mc.Global(resultGlobal)
		require.True(t, value >= 1 && value <= 6, "random 6 gave %d", value)
	}

	testSuccess(t, []testCase{
		{Name: "Reseed", Input: storing("random -3"), Result: 0},
		{Name: "Clock", Input: storing("random 0"), Result: 0},
		{Name: "One", Input: storing("random 1"), Result: 1},
	})

	// A negative range makes the sequence repeatable across machines
	image := assemble(t, ".global result\n.start\nrandom -42 -> sp\nrandom 1000 -> result\nquit\n")
	var results []uint16

	for _, seed := range []int64{1, 2} {
		mc, err := machine.New(image, &testHost{}, machine.Options{Seed: seed})
		require.NoError(t, err)

		_, err = mc.Run(context.Background())
		require.NoError(t, err)

		results = append(results, mc.Global(resultGlobal))
	}

	assert.Equal(t, results[0], results[1])
}

func TestVerify(t *testing.T) {
	source := branching("verify")

	mc, _, err := run(t, source)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), mc.Global(resultGlobal))

	image := assemble(t, source)
	image[0x1C] ^= 0xFF

	mc, _ = newMachine(t, image)
	_, err = mc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(1), mc.Global(resultGlobal))
}

func TestStatusLine(t *testing.T) {
	_, host, err := run(t, `
	.global location
	.global score 10
	.global moves 3
	room .object "West of House"
	.start
		store location room
		show_status
		quit
	`)

	require.NoError(t, err)
	assert.Equal(t, []string{"West of House 10/3"}, host.Statuses)
}

func TestRestart(t *testing.T) {
	mc, _, err := run(t, storing("add 2 3"))

	require.NoError(t, err)
	require.Equal(t, uint16(5), mc.Global(resultGlobal))

	mc.Restart()

	assert.Equal(t, uint16(0), mc.Global(resultGlobal))
	assert.Equal(t, mc.Header.InitialPC, mc.PC())
	assert.Empty(t, mc.Stack())
	assert.Equal(t, machine.StatusRunning, mc.Status())
}

func TestHeader(t *testing.T) {
	image := assemble(t, ".release 3\n.serial \"860101\"\n.start\nquit\n")

	header, err := machine.ParseHeader(image)
	require.NoError(t, err)

	assert.Equal(t, uint8(3), header.Version)
	assert.Equal(t, uint16(3), header.Release)
	assert.Equal(t, "860101", header.Serial)
	assert.Equal(t, uint32(len(image)), header.FileLength)
	assert.Equal(t, machine.Checksum(image, header.FileLength), header.Checksum)

	bad := append([]byte(nil), image...)
	bad[0] = 5

	_, err = machine.ParseHeader(bad)
	assert.ErrorIs(t, err, machine.ErrUnsupportedVersion)

	_, err = machine.ParseHeader(image[:0x20])
	assert.ErrorIs(t, err, machine.ErrMemoryBounds)

	_, err = machine.New(image, nil, machine.Options{})
	assert.Error(t, err)
}

func TestDisassemble(t *testing.T) {
	tests := []string{
		"add 1 2 -> sp",
		"je l1 g0 ?rtrue",
		"jz 0 ?~rfalse",
		"inc g5",
		"push 1000",
		`print "hi"`,
		"call 300 1 -> g2",
	}

	for _, want := range tests {
		t.Run(want, func(t *testing.T) {
			mc, _ := newMachine(t, assemble(t, ".start\n"+want+"\nquit\n"))

			var have string

			err := machine.Guard(func() {
				have = mc.Decoder.Decode(mc.Header.InitialPC, nil).String()
			})

			require.NoError(t, err)
			assert.Equal(t, want, have)
		})
	}
}

func TestFuzz(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(64, 256)
	base := assemble(t, ".start\nquit\n")
	high := encoding.Word(base, 0x04)

	for i := 0; i < 200; i++ {
		var code []byte
		f.Fuzz(&code)

		image := append(append([]byte(nil), base[:high]...), code...)

		if len(image)%2 != 0 {
			image = append(image, 0)
		}

		encoding.PutWord(image, 0x1A, uint16(len(image)/2))

		mc, err := machine.New(image, machine.NopHost{}, machine.Options{Seed: int64(i + 1)})
		require.NoError(t, err)

		for step := 0; step < 1000; step++ {
			status, err := mc.Step()

			if err != nil || status == machine.StatusHalted {
				break
			}

			if status == machine.StatusAwaitingInput {
				mc.ResumeEOF()
			}
		}
	}
}
