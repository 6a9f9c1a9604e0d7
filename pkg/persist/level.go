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

package persist

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/lassandro/goz3/pkg/machine"
)

// Snapshots kept in a LevelDB database, one record per key. Values are
// already snappy-compressed, so the table compression is turned off.
type LevelStore struct {
	db *leveldb.DB
}

var levelOptions = &opt.Options{
	Compression: opt.NoCompression,
}

func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, levelOptions)

	if err != nil {
		return nil, fmt.Errorf("opening save database %s: %w", path, err)
	}

	return &LevelStore{db: db}, nil
}

// A LevelStore that lives only as long as the process.
func OpenMemoryStore() (*LevelStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), levelOptions)

	if err != nil {
		return nil, err
	}

	return &LevelStore{db: db}, nil
}

func (s *LevelStore) Save(key string, snap *machine.Snapshot) error {
	data, err := Encode(snap)

	if err != nil {
		return err
	}

	if err := s.db.Put([]byte(key), data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}

	log.Infof("saved %d bytes under %s", len(data), key)

	return nil
}

func (s *LevelStore) Load(key string) (*machine.Snapshot, error) {
	data, err := s.db.Get([]byte(key), nil)

	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNoSnapshot
	}

	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", key, err)
	}

	return Decode(data)
}

// Every key stored under prefix, in order.
func (s *LevelStore) Keys(prefix string) ([]string, error) {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	var keys []string

	for ok := iter.Seek([]byte(prefix)); ok; ok = iter.Next() {
		key := string(iter.Key())

		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			break
		}

		keys = append(keys, key)
	}

	return keys, iter.Error()
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}
