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

package persist_test

import (
	"path/filepath"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lassandro/goz3/pkg/machine"
	"github.com/lassandro/goz3/pkg/persist"
)

func sampleSnapshot() *machine.Snapshot {
	memory := make([]byte, 0x400)

	for i := range memory {
		memory[i] = byte(i % 7)
	}

	return &machine.Snapshot{
		Release:  3,
		Serial:   "860101",
		Checksum: 0xBEEF,
		Memory:   memory,
		PC:       0x3A7,
		Stack:    []uint16{0, 0x3A0, 0x10, 0, 2, 7, 9, 42},
		Frame:    5,
	}
}

func TestEncoding(t *testing.T) {
	snap := sampleSnapshot()

	data, err := persist.Encode(snap)
	require.NoError(t, err)
	assert.Less(t, len(data), len(snap.Memory), "memory should compress")

	again, err := persist.Encode(snap)
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding is deterministic")

	decoded, err := persist.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, snap, decoded)

	_, err = persist.Encode(nil)
	assert.Error(t, err)
}

func TestDecodeGarbage(t *testing.T) {
	tests := map[string][]byte{
		"Empty":     nil,
		"No Magic":  []byte("hello world"),
		"Truncated": {'G', 'Z', '3', 0x01, 0xFF},
		"Not CBOR":  append([]byte{'G', 'Z', '3', 0x01}, 0x03, 0x08, 0xFF, 0xFF, 0xFF),
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := persist.Decode(data)
			assert.ErrorIs(t, err, persist.ErrBadFormat)
		})
	}

	// A one-byte length prefix keeps the claimed size small
	f := fuzz.New().NilChance(0).NumElements(0, 64)

	for i := 0; i < 500; i++ {
		var data []byte
		f.Fuzz(&data)

		assert.NotPanics(t, func() {
			persist.Decode(append([]byte{'G', 'Z', '3', 0x01, 0x40}, data...))
		})
	}
}

func TestKey(t *testing.T) {
	header := &machine.Header{Release: 88, Serial: "840726", Checksum: 0x1A2B}

	assert.Equal(t, "r88-840726-1a2b/default", persist.Key(header, ""))
	assert.Equal(t, "r88-840726-1a2b/west", persist.Key(header, " west "))

	header.Serial = "84\x0007\xff26"
	assert.Equal(t, "r88-840726-1a2b/default", persist.Key(header, ""))
}

func testStore(t *testing.T, store persist.Store) {
	defer store.Close()

	_, err := store.Load("missing")
	require.ErrorIs(t, err, persist.ErrNoSnapshot)

	snap := sampleSnapshot()
	require.NoError(t, store.Save("r3-860101-beef/default", snap))

	loaded, err := store.Load("r3-860101-beef/default")
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)

	snap.PC = 0x400
	require.NoError(t, store.Save("r3-860101-beef/default", snap))

	loaded, err = store.Load("r3-860101-beef/default")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x400), loaded.PC)

	slot := &persist.Slot{Store: store, Key: "r3-860101-beef/other"}

	_, err = slot.Restore()
	assert.ErrorIs(t, err, persist.ErrNoSnapshot)

	require.NoError(t, slot.Save(snap))

	loaded, err = slot.Restore()
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "saves")

	store, err := persist.NewFileStore(dir)
	require.NoError(t, err)

	testStore(t, store)

	matches, err := filepath.Glob(filepath.Join(dir, "*.sav"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestLevelStore(t *testing.T) {
	store, err := persist.OpenLevelStore(filepath.Join(t.TempDir(), "saves.db"))
	require.NoError(t, err)

	testStore(t, store)
}

func TestMemoryStore(t *testing.T) {
	store, err := persist.OpenMemoryStore()
	require.NoError(t, err)

	require.NoError(t, store.Save("a/1", sampleSnapshot()))
	require.NoError(t, store.Save("a/2", sampleSnapshot()))
	require.NoError(t, store.Save("b/1", sampleSnapshot()))

	keys, err := store.Keys("a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1", "a/2"}, keys)

	testStore(t, store)
}

func TestOpen(t *testing.T) {
	for _, kind := range []string{"", "file", "leveldb", "memory"} {
		store, err := persist.Open(kind, filepath.Join(t.TempDir(), "saves"))
		require.NoError(t, err, kind)
		require.NoError(t, store.Close())
	}

	_, err := persist.Open("floppy", "")
	assert.Error(t, err)
}
