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

// Breakpoints, watchpoints and state inspection for a running machine.
package debugger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/olekukonko/tablewriter"

	"github.com/lassandro/goz3/pkg/machine"
)

func New(out io.Writer) *Debugger {
	if out == nil {
		out = colorable.NewColorableStdout()
	}

	return &Debugger{
		Out:   out,
		bold:  color.New(color.Bold),
		faint: color.New(color.FgHiBlack),
		mark:  color.New(color.FgGreen, color.Bold),
	}
}

func (dbg *Debugger) SetColor(enabled bool) {
	for _, c := range []*color.Color{dbg.bold, dbg.faint, dbg.mark} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

// Called by the machine after every instruction; mc.PC() is the next one
// to run.
func (dbg *Debugger) Step(mc *machine.Machine) {
	if dbg.Break {
		dbg.HandleBreak(dbg, mc)
		return
	}

	for _, breakpoint := range dbg.Breakpoints {
		if mc.PC() == breakpoint.Addr {
			dbg.HandleBreak(dbg, mc)
			break
		}
	}
}

func (dbg *Debugger) Read(addr uint32, mc *machine.Machine) {
	for _, watchpoint := range dbg.Watchpoints {
		if watchpoint.Type&ReadWatch == 0 {
			continue
		}

		if addr == watchpoint.Addr {
			dbg.HandleRead(addr, dbg, mc)
			break
		}
	}
}

func (dbg *Debugger) Write(addr uint32, mc *machine.Machine) {
	for _, watchpoint := range dbg.Watchpoints {
		if watchpoint.Type&WriteWatch == 0 {
			continue
		}

		if addr == watchpoint.Addr {
			dbg.HandleWrite(addr, dbg, mc)
			break
		}
	}
}

// Returns false when addr already has a breakpoint.
func (dbg *Debugger) AddBreakpoint(addr uint32) bool {
	for _, breakpoint := range dbg.Breakpoints {
		if breakpoint.Addr == addr {
			return false
		}
	}

	dbg.Breakpoints = append(dbg.Breakpoints, Breakpoint{addr})

	return true
}

func (dbg *Debugger) AddWatchpoint(addr uint32, wtype WatchpointType) bool {
	for _, watchpoint := range dbg.Watchpoints {
		if watchpoint.Addr == addr && watchpoint.Type == wtype {
			return false
		}
	}

	dbg.Watchpoints = append(dbg.Watchpoints, Watchpoint{addr, wtype})

	return true
}

// Address of a label from the symbol table.
func (dbg *Debugger) Lookup(label string) (uint32, bool) {
	if dbg.SymTable == nil {
		return 0, false
	}

	for addr, name := range dbg.SymTable.Labels {
		if name == label {
			return addr, true
		}
	}

	return 0, false
}

func (dbg *Debugger) PrintSource(addr uint32, count int) {
	if dbg.Source == nil {
		fmt.Fprintln(dbg.Out, "No source file loaded")
		return
	}

	if dbg.SymTable == nil {
		fmt.Fprintln(dbg.Out, "No symbol table loaded")
		return
	}

	offset, exists := dbg.SymTable.Symbols[addr]

	if !exists {
		fmt.Fprintf(dbg.Out, "No instruction found at %#05x\n", addr)
		return
	}

	if _, err := dbg.Source.Seek(offset, io.SeekStart); err != nil {
		fmt.Fprintln(dbg.Out, err)
		return
	}

	lines := make(map[int64]uint32, len(dbg.SymTable.Symbols))

	for lineaddr, linebyte := range dbg.SymTable.Symbols {
		lines[linebyte] = lineaddr
	}

	scanner := bufio.NewScanner(dbg.Source)
	scanner.Split(bufio.ScanLines)

	for i := 0; i < count && scanner.Scan(); i++ {
		line := scanner.Text()

		if lineaddr, found := lines[offset]; found {
			dbg.bold.Fprintf(dbg.Out, "[%#05x]", lineaddr)
			fmt.Fprint(dbg.Out, " ")
		} else {
			dbg.faint.Fprint(dbg.Out, "~~~~~~~")
			fmt.Fprint(dbg.Out, " ")
		}

		fmt.Fprintln(dbg.Out, line)

		offset += int64(len(line) + 1)
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintln(dbg.Out, err)
	}
}

func (dbg *Debugger) PrintMem(mc *machine.Machine, addr uint32, count uint32) {
	if end := mc.Memory.Len(); addr >= end {
		fmt.Fprintf(dbg.Out, "%#05x is past the end of memory\n", addr)
		return
	} else if addr+count > end {
		count = end - addr
	}

	for i := addr; i < addr+count; i++ {
		if i == addr {
			dbg.bold.Fprintf(dbg.Out, "[%#05x]", i)
			fmt.Fprint(dbg.Out, " ")
		} else if (i-addr)%8 == 0 {
			fmt.Fprintln(dbg.Out)
			dbg.bold.Fprintf(dbg.Out, "[%#05x]", i)
			fmt.Fprint(dbg.Out, " ")
		}

		result := mc.Memory.Byte(i)

		if result == 0 {
			dbg.faint.Fprintf(dbg.Out, "%02x ", result)
		} else {
			fmt.Fprintf(dbg.Out, "%02x ", result)
		}
	}

	fmt.Fprintln(dbg.Out)
}

// Decodes count instructions from addr. Stops at the first one that does
// not decode and returns its fault.
func (dbg *Debugger) Disassemble(mc *machine.Machine, addr uint32, count int) error {
	for i := 0; i < count; i++ {
		var in *machine.Instruction

		err := machine.Guard(func() {
			in = mc.Decoder.Decode(addr, nil)
		})

		if err != nil {
			return err
		}

		if addr == mc.PC() {
			dbg.mark.Fprint(dbg.Out, "=> ")
		} else {
			fmt.Fprint(dbg.Out, "   ")
		}

		dbg.bold.Fprintf(dbg.Out, "[%#05x]", addr)

		if dbg.SymTable != nil {
			if label, ok := dbg.SymTable.Labels[addr]; ok {
				dbg.faint.Fprintf(dbg.Out, " <%s>", label)
			}
		}

		fmt.Fprintf(dbg.Out, " %s\n", in.String())

		addr = in.Next
	}

	return nil
}

func (dbg *Debugger) table(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(dbg.Out)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	return table
}

func hex(value uint32) string {
	return fmt.Sprintf("%#05x", value)
}

func (dbg *Debugger) PrintHeader(mc *machine.Machine) {
	h := mc.Header
	table := dbg.table("Field", "Value")

	table.AppendBulk([][]string{
		{"Version", strconv.Itoa(int(h.Version))},
		{"Release", strconv.Itoa(int(h.Release))},
		{"Serial", h.SerialString()},
		{"Initial PC", hex(h.InitialPC)},
		{"High memory", hex(h.HighBase)},
		{"Static memory", hex(h.StaticBase)},
		{"Dictionary", hex(h.Dictionary)},
		{"Objects", hex(h.ObjectTable)},
		{"Globals", hex(h.Globals)},
		{"Abbreviations", hex(h.Abbreviations)},
		{"Length", strconv.Itoa(int(h.FileLength))},
		{"Checksum", fmt.Sprintf("%#04x", h.Checksum)},
	})

	table.Render()
}

// Objects first to last; last 0 means every object.
func (dbg *Debugger) PrintObjects(mc *machine.Machine, first uint16, last uint16) error {
	return machine.Guard(func() {
		count := mc.Objects.Count()

		if first == 0 {
			first = 1
		}

		if last == 0 || last > count {
			last = count
		}

		table := dbg.table("#", "Name", "Parent", "Sibling", "Child", "Attributes", "Properties")

		for obj := first; obj <= last && obj != 0; obj++ {
			var attributes []int

			for attr := uint16(0); attr <= 31; attr++ {
				if mc.Objects.Attribute(obj, attr) {
					attributes = append(attributes, int(attr))
				}
			}

			addr, _ := mc.Objects.ShortNameAddr(obj)
			name, _ := mc.Text.Decode(addr)

			table.Append([]string{
				strconv.Itoa(int(obj)),
				name,
				strconv.Itoa(int(mc.Objects.Parent(obj))),
				strconv.Itoa(int(mc.Objects.Sibling(obj))),
				strconv.Itoa(int(mc.Objects.Child(obj))),
				fmt.Sprint(attributes),
				fmt.Sprint(mc.Objects.Properties(obj)),
			})
		}

		table.Render()
	})
}

func (dbg *Debugger) PrintDictionary(mc *machine.Machine) error {
	return machine.Guard(func() {
		table := dbg.table("#", "Address", "Word")

		for i := uint16(0); i < mc.Dict.Count; i++ {
			table.Append([]string{
				strconv.Itoa(int(i)),
				hex(mc.Dict.Entry(i)),
				mc.Dict.Word(i),
			})
		}

		table.Render()

		fmt.Fprintf(dbg.Out, "Separators: %q\n", string(mc.Dict.Separators))
	})
}

// Locals of the current routine and every nonzero global.
func (dbg *Debugger) PrintVariables(mc *machine.Machine) {
	for i, local := range mc.Locals() {
		dbg.bold.Fprintf(dbg.Out, "l%d:", i+1)
		fmt.Fprintf(dbg.Out, " %#04x\t", local)

		if i%4 == 3 {
			fmt.Fprintln(dbg.Out)
		}
	}

	if len(mc.Locals())%4 != 0 {
		fmt.Fprintln(dbg.Out)
	}

	var globals []int

	for n := 0; n < 240; n++ {
		if mc.Global(uint8(0x10+n)) != 0 {
			globals = append(globals, n)
		}
	}

	for _, n := range globals {
		dbg.bold.Fprintf(dbg.Out, "g%d:", n)
		fmt.Fprintf(dbg.Out, " %#04x\n", mc.Global(uint8(0x10+n)))
	}
}

type machineState struct {
	PC     uint32
	Status string
	Depth  int
	Frame  int
	Locals []uint16
	Stack  []uint16
	Fault  error
}

var dumper = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Full dump of the execution state.
func (dbg *Debugger) Dump(mc *machine.Machine) {
	dumper.Fdump(dbg.Out, machineState{
		PC:     mc.PC(),
		Status: mc.Status().String(),
		Depth:  mc.Depth(),
		Frame:  mc.FrameBase(),
		Locals: mc.Locals(),
		Stack:  mc.Stack(),
		Fault:  mc.Err(),
	})
}

// Writes the machine's memory image to path, for inspection with other
// tools.
func (dbg *Debugger) WriteImage(mc *machine.Machine, path string) error {
	return os.WriteFile(path, mc.Memory.Bytes(), 0o644)
}
