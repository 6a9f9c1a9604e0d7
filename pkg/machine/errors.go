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
	"errors"
	"fmt"
)

var (
	ErrUnsupportedVersion  = errors.New("unsupported story file version")
	ErrUnknownOpcode       = errors.New("unknown opcode")
	ErrExtendedForm        = errors.New("extended instruction form")
	ErrMemoryBounds        = errors.New("memory access out of bounds")
	ErrMalformedObjectTree = errors.New("malformed object tree")
	ErrInvalidObject       = errors.New("invalid object")
	ErrInvalidAttribute    = errors.New("invalid attribute")
	ErrInvalidProperty     = errors.New("invalid property")
	ErrNoProperty          = errors.New("object has no such property")
	ErrPropertySize        = errors.New("illegal property size")
	ErrNestedAbbreviation  = errors.New("nested abbreviation")
	ErrDivideByZero        = errors.New("division by zero")
	ErrStackUnderflow      = errors.New("stack underflow")
	ErrStackOverflow       = errors.New("stack overflow")
	ErrBadRoutine          = errors.New("bad routine header")
	ErrInvalidVariable     = errors.New("invalid variable")
	ErrOperandCount        = errors.New("too few operands")
	ErrInputBuffer         = errors.New("invalid input buffer")
	ErrHalted              = errors.New("machine is halted")
	ErrNotAwaitingInput    = errors.New("machine is not awaiting input")
	ErrSnapshotMismatch    = errors.New("snapshot belongs to a different story")
)

// A fatal condition raised while executing an instruction. Faults travel as
// panics inside the machine and are recovered by Step, which returns them as
// ordinary errors.
type Fault struct {
	Err    error
	PC     uint32
	Opcode uint8
	Name   string
	Detail string
}

func (f *Fault) Error() string {
	location := fmt.Sprintf("pc %#05x", f.PC)

	if f.Name != "" {
		location += fmt.Sprintf(" (%s, opcode %d)", f.Name, f.Opcode)
	}

	if f.Detail != "" {
		return fmt.Sprintf("%s: %s: %v", location, f.Detail, f.Err)
	}

	return fmt.Sprintf("%s: %v", location, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

func raise(err error, format string, args ...interface{}) {
	panic(&Fault{Err: err, Detail: fmt.Sprintf(format, args...)})
}

// Converts a recovered panic value into a fault.
func asFault(r interface{}) *Fault {
	switch value := r.(type) {
	case *Fault:
		return value
	case error:
		return &Fault{Err: value}
	}

	return &Fault{Err: fmt.Errorf("%v", r)}
}

// Runs fn and returns any fault it raises. For inspecting machine state from
// outside Step, such as disassembling or walking the object tree.
func Guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = asFault(r)
		}
	}()

	fn()

	return nil
}
