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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/lassandro/goz3/pkg/console"
	"github.com/lassandro/goz3/pkg/debugger"
	"github.com/lassandro/goz3/pkg/encoding"
	"github.com/lassandro/goz3/pkg/machine"
)

type debugSession struct {
	mc    *machine.Machine
	dbg   *debugger.Debugger
	host  *console.Console
	input console.LineReader
	quit  context.CancelFunc

	source  *os.File
	lastcmd []string
}

func newDebugSession(
	mc *machine.Machine,
	host *console.Console,
	input console.LineReader,
	quit context.CancelFunc,
) *debugSession {
	s := &debugSession{mc: mc, host: host, input: input, quit: quit}

	s.dbg = debugger.New(stdout)
	s.dbg.HandleBreak = s.handleBreak
	s.dbg.HandleRead = s.handleWatch
	s.dbg.HandleWrite = s.handleWatch
	mc.Debugger = s.dbg

	return s
}

func (s *debugSession) loadSymbols(story string) {
	symtable, err := readSymbols(story)

	if err != nil {
		log.Warningf("no symbol table: %s", err.Error())
		return
	}

	s.dbg.SymTable = symtable

	if symtable.Source == "" {
		return
	}

	if file, err := os.Open(symtable.Source); err == nil {
		s.source = file
		s.dbg.Source = file
	} else {
		log.Warningf("no source file: %s", err.Error())
	}
}

func (s *debugSession) close() {
	if s.source != nil {
		s.source.Close()
	}
}

func complain(args ...interface{}) {
	fmt.Fprintln(stderr, args...)
}

// Accepts a label, 0x-prefixed or x-prefixed hex, or decimal.
func (s *debugSession) parseAddr(arg string) (uint32, error) {
	if addr, ok := s.dbg.Lookup(arg); ok {
		return addr, nil
	}

	if strings.HasPrefix(arg, "x") || strings.HasPrefix(arg, "X") {
		arg = "0" + arg
	}

	value, err := strconv.ParseUint(arg, 0, 32)

	if err != nil {
		return 0, fmt.Errorf("'%s' is not an address or label", arg)
	}

	return uint32(value), nil
}

func (s *debugSession) debugBreak(args []string) {
	const usage = "break [add|list|remove|clear]"

	if len(args) == 0 {
		args = append(args, "l")
	}

	cmd := args[0]
	args = args[1:]

	switch cmd {
	case "a", "add":
		const usage = "break add [0x####|label]"

		if len(args) != 1 {
			complain(usage)
			return
		}

		addr, err := s.parseAddr(args[0])

		if err != nil {
			complain(err)
			return
		}

		if s.dbg.AddBreakpoint(addr) {
			fmt.Fprintf(stdout, "Breakpoint added [%#05x]\n", addr)
		}

	case "l", "ls", "list":
		for i, breakpoint := range s.dbg.Breakpoints {
			fmt.Fprintf(stdout, "#%d: %#05x\n", i, breakpoint.Addr)
		}

	case "r", "rm", "remove":
		const usage = "break remove [#]"

		if len(args) != 1 {
			complain(usage)
			return
		}

		i, err := strconv.Atoi(args[0])

		if err != nil || i < 0 || i >= len(s.dbg.Breakpoints) {
			complain("Invalid breakpoint number")
			return
		}

		s.dbg.Breakpoints = append(s.dbg.Breakpoints[:i], s.dbg.Breakpoints[i+1:]...)
		fmt.Fprintf(stdout, "Breakpoint removed [%d]\n", i)

	case "clear":
		s.dbg.Breakpoints = nil
		fmt.Fprintln(stdout, "Breakpoints reset")

	default:
		complain(usage)
	}
}

func (s *debugSession) debugWatch(args []string) {
	const usage = "watch [add|list|remove|clear]"

	if len(args) == 0 {
		args = append(args, "l")
	}

	cmd := args[0]
	args = args[1:]

	switch cmd {
	case "a", "add":
		const usage = "watch add [0x####|label|g#] [read|write|readwrite]"

		if len(args) != 2 {
			complain(usage)
			return
		}

		addr, err := s.parseWatchAddr(args[0])

		if err != nil {
			complain(err)
			return
		}

		var wtype debugger.WatchpointType

		switch args[1] {
		case "r", "read":
			wtype = debugger.ReadWatch
		case "w", "write":
			wtype = debugger.WriteWatch
		case "rw", "readwrite":
			wtype = debugger.ReadWriteWatch
		default:
			complain(usage)
			return
		}

		if s.dbg.AddWatchpoint(addr, wtype) {
			fmt.Fprintf(stdout, "Watchpoint added [%#05x] (%s)\n", addr, wtype)
		}

	case "l", "ls", "list":
		for i, watchpoint := range s.dbg.Watchpoints {
			fmt.Fprintf(stdout, "#%d: %#05x %s\n", i, watchpoint.Addr, watchpoint.Type)
		}

	case "r", "rm", "remove":
		const usage = "watch remove [#]"

		if len(args) != 1 {
			complain(usage)
			return
		}

		i, err := strconv.Atoi(args[0])

		if err != nil || i < 0 || i >= len(s.dbg.Watchpoints) {
			complain("Invalid watchpoint number")
			return
		}

		s.dbg.Watchpoints = append(s.dbg.Watchpoints[:i], s.dbg.Watchpoints[i+1:]...)
		fmt.Fprintf(stdout, "Watchpoint removed [%d]\n", i)

	case "clear":
		s.dbg.Watchpoints = nil
		fmt.Fprintln(stdout, "Watchpoints reset")

	default:
		complain(usage)
	}
}

// Globals can be watched by name; they live in the global table.
func (s *debugSession) parseWatchAddr(arg string) (uint32, error) {
	if n, ok := parseGlobal(arg); ok {
		return s.mc.Header.Globals + 2*uint32(n), nil
	}

	return s.parseAddr(arg)
}

func parseGlobal(arg string) (int, bool) {
	if len(arg) < 2 || arg[0] != 'g' {
		return 0, false
	}

	n, err := strconv.Atoi(arg[1:])

	if err != nil || n < 0 || n > 239 {
		return 0, false
	}

	return n, true
}

func (s *debugSession) debugVar(args []string) {
	const usage = "var [g# 0x####]"

	switch len(args) {
	case 0:
		s.dbg.PrintVariables(s.mc)
		fmt.Fprintf(stdout, "PC: %#05x  depth %d  stack %v\n",
			s.mc.PC(), s.mc.Depth(), s.mc.Stack())

	case 2:
		n, ok := parseGlobal(args[0])

		if !ok {
			complain("Only globals can be set")
			return
		}

		value, err := encoding.DecodeLiteral(args[1])

		if err != nil {
			complain(err)
			return
		}

		s.mc.Memory.SetWord(s.mc.Header.Globals+2*uint32(n), value)
		fmt.Fprintf(stdout, "g%d: %#04x\n", n, value)

	default:
		complain(usage)
	}
}

// Optional address or label, then an optional count.
func (s *debugSession) parseRange(args []string, count int) (uint32, int, bool) {
	addr := s.mc.PC()

	if len(args) > 2 {
		return 0, 0, false
	}

	if len(args) > 0 {
		value, err := s.parseAddr(args[0])

		if err != nil {
			complain(err)
			return 0, 0, false
		}

		addr = value
	}

	if len(args) > 1 {
		value, err := strconv.Atoi(args[1])

		if err != nil || value < 1 {
			complain("Invalid count")
			return 0, 0, false
		}

		count = value
	}

	return addr, count, true
}

func (s *debugSession) debugSource(args []string) {
	if addr, count, ok := s.parseRange(args, 3); ok {
		s.dbg.PrintSource(addr, count)
	} else {
		complain("source [0x####|label] [#]")
	}
}

func (s *debugSession) debugDisasm(args []string) {
	addr, count, ok := s.parseRange(args, 8)

	if !ok {
		complain("disasm [0x####|label] [#]")
		return
	}

	if err := s.dbg.Disassemble(s.mc, addr, count); err != nil {
		complain(err)
	}
}

func (s *debugSession) debugMemory(args []string) {
	addr, count, ok := s.parseRange(args, 16)

	if !ok {
		complain("memory [0x####|label] [#]")
		return
	}

	s.dbg.PrintMem(s.mc, addr, uint32(count))
}

func (s *debugSession) debugLabels() {
	if s.dbg.SymTable == nil {
		fmt.Fprintln(stdout, "No symbol table loaded")
		return
	}

	keys := make([]uint32, 0, len(s.dbg.SymTable.Labels))

	for addr := range s.dbg.SymTable.Labels {
		keys = append(keys, addr)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, addr := range keys {
		fmt.Fprintf(stdout, "[%#05x] %s\n", addr, s.dbg.SymTable.Labels[addr])
	}
}

func (s *debugSession) debugJump(args []string) {
	if len(args) != 1 {
		complain("jump [0x####|label]")
		return
	}

	addr, err := s.parseAddr(args[0])

	if err != nil {
		complain(err)
		return
	}

	s.mc.SetPC(addr)
	fmt.Fprintf(stdout, "PC: %#05x\n", addr)
}

func (s *debugSession) debugSet(args []string) {
	if len(args) != 2 {
		complain("set [0x####] [0x##]")
		return
	}

	addr, err := s.parseAddr(args[0])

	if err != nil {
		complain(err)
		return
	}

	value, err := encoding.DecodeLiteral(args[1])

	if err != nil {
		complain(err)
		return
	}

	if err := machine.Guard(func() { s.mc.Memory.SetByte(addr, value) }); err != nil {
		complain(err)
		return
	}

	s.mc.Text.Purge()

	s.dbg.PrintMem(s.mc, addr, 1)
}

func (s *debugSession) debugWrite(args []string) {
	if len(args) != 1 {
		complain("write [file]")
		return
	}

	if err := s.dbg.WriteImage(s.mc, args[0]); err != nil {
		complain(err)
		return
	}

	fmt.Fprintf(stdout, "Wrote %d bytes to %s\n", s.mc.Memory.Len(), args[0])
}

func (s *debugSession) debugObjects(args []string) {
	var bounds [2]uint16

	for i := 0; i < len(args) && i < 2; i++ {
		value, err := strconv.Atoi(args[i])

		if err != nil || value < 0 || value > 255 {
			complain("objects [first] [last]")
			return
		}

		bounds[i] = uint16(value)
	}

	if len(args) == 1 {
		bounds[1] = bounds[0]
	}

	if err := s.dbg.PrintObjects(s.mc, bounds[0], bounds[1]); err != nil {
		complain(err)
	}
}

// Returns when execution should resume.
func (s *debugSession) repl() {
	s.host.Flush()

	for {
		line, err := s.input.ReadLine("(dbg) ")

		if errors.Is(err, io.EOF) {
			fmt.Fprintln(stdout)
			s.dbg.Break = false
			s.quit()
			return
		}

		if err != nil {
			complain(err)
			continue
		}

		args := strings.Fields(line)

		if len(args) == 0 {
			if len(s.lastcmd) == 0 {
				continue
			}

			args = s.lastcmd
		} else {
			s.lastcmd = append([]string(nil), args...)
		}

		cmd := args[0]
		args = args[1:]

		switch cmd {
		case "b", "bp", "break", "breakpoint":
			s.debugBreak(args)

		case "w", "wp", "watch", "watchpoint":
			s.debugWatch(args)

		case "v", "var", "vars", "variables":
			s.debugVar(args)

		case "s", "src", "source":
			s.debugSource(args)

		case "d", "dis", "disasm":
			s.debugDisasm(args)

		case "l", "label", "labels":
			s.debugLabels()

		case "j", "jmp", "jump":
			s.debugJump(args)

		case "m", "mem", "memory":
			s.debugMemory(args)

		case "set":
			s.debugSet(args)

		case "h", "header":
			s.dbg.PrintHeader(s.mc)

		case "o", "obj", "objects":
			s.debugObjects(args)

		case "dict", "dictionary":
			if err := s.dbg.PrintDictionary(s.mc); err != nil {
				complain(err)
			}

		case "write":
			s.debugWrite(args)

		case "dump", "state":
			s.dbg.Dump(s.mc)

		case "c", "continue":
			s.dbg.Break = false
			return

		case "n", "next":
			s.dbg.Break = true
			return

		case "q", "quit", "exit":
			s.dbg.Break = false
			s.quit()
			return

		case "clear":
			fmt.Fprint(stdout, "\033[H\033[2J")

		case "reset", "restart":
			s.mc.Restart()
			fmt.Fprintf(stdout, "PC: %#05x\n", s.mc.PC())

		default:
			complain(fmt.Sprintf("error: '%s' is not a valid command", cmd))
		}
	}
}

func (s *debugSession) stopped() {
	s.host.Flush()
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Program stopped")
}

func (s *debugSession) handleBreak(dbg *debugger.Debugger, mc *machine.Machine) {
	if !dbg.Break {
		s.stopped()

		if dbg.Source != nil {
			dbg.PrintSource(mc.PC(), 8)
		}
	}

	dbg.Disassemble(mc, mc.PC(), 1)
	s.repl()
}

func (s *debugSession) handleWatch(addr uint32, dbg *debugger.Debugger, mc *machine.Machine) {
	s.stopped()
	dbg.PrintMem(mc, addr&^1, 2)
	s.repl()
}
