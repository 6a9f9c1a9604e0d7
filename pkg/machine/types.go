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
	"math/rand"
)

type Status uint8

const (
	StatusRunning Status = iota
	StatusAwaitingInput
	StatusHalted
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusAwaitingInput:
		return "awaiting input"
	case StatusHalted:
		return "halted"
	}

	return "???"
}

// Everything the machine needs from the outside world. Line input is not
// here: the machine suspends in StatusAwaitingInput and the host answers
// with Resume.
type Host interface {
	Print(text string)
	Println(text string)
	SetStatusLine(location string, score int16, moves int16)

	Save(snap *Snapshot) error
	Restore() (*Snapshot, error)

	// Best-effort message to the player, outside the story's own output
	Notify(message string)
}

// A saved game. PC is the address of the save instruction's branch data.
type Snapshot struct {
	Release  uint16   `cbor:"release"`
	Serial   string   `cbor:"serial"`
	Checksum uint16   `cbor:"checksum"`
	Memory   []byte   `cbor:"memory"`
	PC       uint32   `cbor:"pc"`
	Stack    []uint16 `cbor:"stack"`
	Frame    int      `cbor:"frame"`
}

// Host that discards output and cannot persist anything.
type NopHost struct{}

var errNoPersistence = errors.New("host has no save storage")

func (NopHost) Print(text string)                        {}
func (NopHost) Println(text string)                      {}
func (NopHost) SetStatusLine(location string, s, m int16) {}
func (NopHost) Save(snap *Snapshot) error                { return errNoPersistence }
func (NopHost) Restore() (*Snapshot, error)              { return nil, errNoPersistence }
func (NopHost) Notify(message string)                    {}

type MachineDebugger interface {
	Step(mc *Machine)
	Read(addr uint32, mc *Machine)
	Write(addr uint32, mc *Machine)
}

// Told about story accesses made outside the machine's own load and store
// paths.
type accessObserver interface {
	observeRead(addr uint32, size uint32)
	observeWrite(addr uint32, size uint32)
}

type Options struct {
	// PRNG seed; 0 seeds from the clock
	Seed int64

	// Maximum stack depth in words; 0 means DEFAULT_STACK_LIMIT
	StackLimit int
}

// Pending sread operands while the machine waits for a line.
type inputRequest struct {
	Text  uint32
	Parse uint32
	Max   int
}

type Machine struct {
	Host     Host
	Debugger MachineDebugger

	Header  *Header
	Memory  *Memory
	Text    *TextCodec
	Dict    *Dictionary
	Objects *ObjectStore
	Decoder *Decoder

	pc        uint32
	stack     []uint16
	frameBase int
	status    Status
	input     inputRequest
	current   *Instruction

	// Address of the instruction being executed
	lastPC uint32

	// Set while a debugger hook runs
	inHook bool

	// Unmodified story for restart and verify
	pristine []byte

	rng   *rand.Rand
	opts  Options
	fault error
}
