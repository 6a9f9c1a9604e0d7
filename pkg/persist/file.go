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
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/lassandro/goz3/pkg/machine"
)

// One file per key under a directory.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating save directory: %w", err)
	}

	return &FileStore{Dir: dir}, nil
}

// Keys may contain path separators; they are flattened into one name.
func (s *FileStore) path(key string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(key)

	return filepath.Join(s.Dir, name+".sav")
}

func (s *FileStore) Save(key string, snap *machine.Snapshot) error {
	data, err := Encode(snap)

	if err != nil {
		return err
	}

	path := s.path(key)
	temp, err := os.CreateTemp(s.Dir, ".save-*")

	if err != nil {
		return err
	}

	_, err = temp.Write(data)

	if closeErr := temp.Close(); err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Rename(temp.Name(), path)
	}

	if err != nil {
		os.Remove(temp.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}

	log.Infof("saved %d bytes to %s", len(data), path)

	return nil
}

func (s *FileStore) Load(key string) (*machine.Snapshot, error) {
	path := s.path(key)
	data, err := os.ReadFile(path)

	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSnapshot
	}

	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return Decode(data)
}

func (s *FileStore) Close() error {
	return nil
}
