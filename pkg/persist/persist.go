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

// Saved-game storage. Snapshots are encoded as canonical CBOR and compressed
// with snappy before they reach a backend.
package persist

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/snappy"
	"github.com/tliron/commonlog"

	"github.com/lassandro/goz3/pkg/machine"
)

var log = commonlog.GetLogger("goz3.persist")

var (
	ErrNoSnapshot = errors.New("no saved game")
	ErrBadFormat  = errors.New("not a saved game")
)

// Leads every encoded snapshot; the final byte is the format revision.
var magic = []byte{'G', 'Z', '3', 0x01}

const DEFAULT_SLOT = "default"

type Store interface {
	Save(key string, snap *machine.Snapshot) error
	Load(key string) (*machine.Snapshot, error)
	Close() error
}

var encMode cbor.EncMode

func init() {
	mode, err := cbor.CanonicalEncOptions().EncMode()

	if err != nil {
		panic(fmt.Sprintf("persist: cbor encoder: %v", err))
	}

	encMode = mode
}

func Encode(snap *machine.Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, errors.New("nil snapshot")
	}

	raw, err := encMode.Marshal(snap)

	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}

	return append(append([]byte(nil), magic...), snappy.Encode(nil, raw)...), nil
}

func Decode(data []byte) (*machine.Snapshot, error) {
	if !bytes.HasPrefix(data, magic) {
		return nil, ErrBadFormat
	}

	raw, err := snappy.Decode(nil, data[len(magic):])

	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot: %v: %w", err, ErrBadFormat)
	}

	var snap machine.Snapshot

	if err := cbor.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %v: %w", err, ErrBadFormat)
	}

	return &snap, nil
}

// Identifies a save slot for one particular story build, so a game saved
// from one story is never offered to another.
func Key(header *machine.Header, slot string) string {
	if slot = strings.TrimSpace(slot); slot == "" {
		slot = DEFAULT_SLOT
	}

	return fmt.Sprintf(
		"r%d-%s-%04x/%s",
		header.Release, header.SerialString(), header.Checksum, slot,
	)
}

// Opens the backend named by kind: "file", "leveldb" or "memory".
func Open(kind string, path string) (Store, error) {
	switch kind {
	case "", "file":
		return NewFileStore(path)
	case "leveldb":
		return OpenLevelStore(path)
	case "memory":
		return OpenMemoryStore()
	}

	return nil, fmt.Errorf("unknown save backend %q", kind)
}

// One save slot of one story in a store; satisfies the saving half of
// machine.Host.
type Slot struct {
	Store Store
	Key   string
}

func (s *Slot) Save(snap *machine.Snapshot) error {
	return s.Store.Save(s.Key, snap)
}

func (s *Slot) Restore() (*machine.Snapshot, error) {
	return s.Store.Load(s.Key)
}
