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

// The object tree and property tables.
//
// OBJ  |attributes 0-31 (4 bytes) |parent|sibling|child|properties (word)|
//
// PROP |name length|name (words)...|size/number|data (1-8)|...|0|
//
// Property entries are stored in descending number order, so a lookup can
// stop as soon as it passes the number it wants.
type ObjectStore struct {
	mem   *Memory
	table uint32
	count uint16

	observer accessObserver
}

func NewObjectStore(mem *Memory, header *Header) *ObjectStore {
	s := &ObjectStore{mem: mem, table: header.ObjectTable}
	s.count = s.countObjects()

	return s
}

func (s *ObjectStore) readByte(addr uint32) uint8 {
	value := s.mem.Byte(addr)

	if s.observer != nil {
		s.observer.observeRead(addr, 1)
	}

	return value
}

func (s *ObjectStore) readWord(addr uint32) uint16 {
	value := s.mem.Word(addr)

	if s.observer != nil {
		s.observer.observeRead(addr, 2)
	}

	return value
}

func (s *ObjectStore) writeByte(addr uint32, value uint16) {
	s.mem.SetByte(addr, value)

	if s.observer != nil {
		s.observer.observeWrite(addr, 1)
	}
}

func (s *ObjectStore) writeWord(addr uint32, value uint16) {
	s.mem.SetWord(addr, value)

	if s.observer != nil {
		s.observer.observeWrite(addr, 2)
	}
}

// Address of object 1's entry, just past the property defaults.
func (s *ObjectStore) first() uint32 {
	return s.table + OBJECT_DEFAULTS*2
}

func (s *ObjectStore) addr(obj uint16) uint32 {
	if obj == 0 || obj > s.count {
		raise(ErrInvalidObject, "object %d of %d", obj, s.count)
	}

	return s.first() + OBJECT_ENTRY_SIZE*uint32(obj-1)
}

func (s *ObjectStore) Count() uint16 {
	return s.count
}

// Number of objects, inferred from where the lowest property table starts.
// The object table has no length field, so this is done once at load.
func (s *ObjectStore) countObjects() uint16 {
	lowest := s.mem.Len()

	for obj := uint16(1); obj <= OBJECT_MAX; obj++ {
		entry := s.first() + OBJECT_ENTRY_SIZE*uint32(obj-1)

		if entry+OBJECT_ENTRY_SIZE > lowest || entry+OBJECT_ENTRY_SIZE > s.mem.Len() {
			return obj - 1
		}

		if props := uint32(s.mem.Word(entry + OBJECT_PROPERTIES)); props < lowest {
			lowest = props
		}
	}

	return OBJECT_MAX
}

func attributeMask(attr uint16) (uint32, uint8) {
	if attr > ATTRIBUTE_MAX {
		raise(ErrInvalidAttribute, "attribute %d", attr)
	}

	return uint32(attr / 8), 0x80 >> (attr % 8)
}

func (s *ObjectStore) Attribute(obj uint16, attr uint16) bool {
	offset, mask := attributeMask(attr)

	return s.readByte(s.addr(obj)+offset)&mask != 0
}

func (s *ObjectStore) SetAttribute(obj uint16, attr uint16) {
	offset, mask := attributeMask(attr)
	addr := s.addr(obj) + offset

	s.writeByte(addr, uint16(s.readByte(addr)|mask))
}

func (s *ObjectStore) ClearAttribute(obj uint16, attr uint16) {
	offset, mask := attributeMask(attr)
	addr := s.addr(obj) + offset

	s.writeByte(addr, uint16(s.readByte(addr)&^mask))
}

func (s *ObjectStore) Parent(obj uint16) uint16 {
	return uint16(s.readByte(s.addr(obj) + OBJECT_PARENT))
}

func (s *ObjectStore) Sibling(obj uint16) uint16 {
	return uint16(s.readByte(s.addr(obj) + OBJECT_SIBLING))
}

func (s *ObjectStore) Child(obj uint16) uint16 {
	return uint16(s.readByte(s.addr(obj) + OBJECT_CHILD))
}

func (s *ObjectStore) SetParent(obj uint16, value uint16) {
	s.writeByte(s.addr(obj)+OBJECT_PARENT, value)
}

func (s *ObjectStore) SetSibling(obj uint16, value uint16) {
	s.writeByte(s.addr(obj)+OBJECT_SIBLING, value)
}

func (s *ObjectStore) SetChild(obj uint16, value uint16) {
	s.writeByte(s.addr(obj)+OBJECT_CHILD, value)
}

// Detaches obj from its parent. Its own children stay attached to it.
func (s *ObjectStore) Remove(obj uint16) {
	parent := s.Parent(obj)

	if parent == 0 {
		return
	}

	sibling := s.Sibling(obj)

	if s.Child(parent) == obj {
		s.SetChild(parent, sibling)
	} else {
		prev := s.Child(parent)

		// No chain can hold more links than there are objects
		for steps := uint16(0); ; steps++ {
			if prev == 0 || steps > OBJECT_MAX {
				raise(
					ErrMalformedObjectTree,
					"object %d missing from children of %d", obj, parent,
				)
			}

			next := s.Sibling(prev)

			if next == obj {
				break
			}

			prev = next
		}

		s.SetSibling(prev, sibling)
	}

	s.SetParent(obj, 0)
	s.SetSibling(obj, 0)
}

// Moves obj to be the first child of dest.
func (s *ObjectStore) Insert(obj uint16, dest uint16) {
	if obj == dest {
		raise(ErrMalformedObjectTree, "object %d inserted into itself", obj)
	}

	s.Remove(obj)

	s.SetSibling(obj, s.Child(dest))
	s.SetParent(obj, dest)
	s.SetChild(dest, obj)
}

func (s *ObjectStore) PropertyTable(obj uint16) uint32 {
	return uint32(s.readWord(s.addr(obj) + OBJECT_PROPERTIES))
}

// Address of the encoded short name, and its length in words.
func (s *ObjectStore) ShortNameAddr(obj uint16) (uint32, uint8) {
	table := s.PropertyTable(obj)

	return table + 1, s.readByte(table)
}

func decodeSizeByte(b uint8) (number uint16, size uint8) {
	return uint16(b & 0x1F), (b >> 5) + 1
}

// Address of the first property entry's size byte.
func (s *ObjectStore) propertyList(obj uint16) uint32 {
	addr, words := s.ShortNameAddr(obj)

	return addr + 2*uint32(words)
}

func checkProperty(prop uint16) {
	if prop == 0 || prop > PROPERTY_MAX {
		raise(ErrInvalidProperty, "property %d", prop)
	}
}

// Finds property prop on obj. Returns the address of its data and its size.
func (s *ObjectStore) PropertyAddr(obj uint16, prop uint16) (uint32, uint8, bool) {
	checkProperty(prop)

	for cursor := s.propertyList(obj); ; {
		b := s.readByte(cursor)

		if b == 0 {
			return 0, 0, false
		}

		number, size := decodeSizeByte(b)

		if number == prop {
			return cursor + 1, size, true
		}

		if number < prop {
			return 0, 0, false
		}

		cursor += 1 + uint32(size)
	}
}

// As PropertyAddr, falling back to the defaults table.
func (s *ObjectStore) PropertyOrDefault(obj uint16, prop uint16) (uint32, uint8) {
	if addr, size, ok := s.PropertyAddr(obj, prop); ok {
		return addr, size
	}

	return s.table + 2*uint32(prop-1), PROPERTY_WORD_SIZE
}

// Data length of the property whose data starts at addr. 0 for address 0.
func (s *ObjectStore) PropertyLength(addr uint32) uint16 {
	if addr == 0 {
		return 0
	}

	_, size := decodeSizeByte(s.readByte(addr - 1))

	return uint16(size)
}

func (s *ObjectStore) FirstProperty(obj uint16) uint16 {
	number, _ := decodeSizeByte(s.readByte(s.propertyList(obj)))

	return number
}

// The number of the property stored after prop, or 0 at the end of the list
// or when obj lacks prop.
func (s *ObjectStore) PropertyAfter(obj uint16, prop uint16) uint16 {
	addr, size, ok := s.PropertyAddr(obj, prop)

	if !ok {
		return 0
	}

	number, _ := decodeSizeByte(s.readByte(addr + uint32(size)))

	return number
}

// Value of a one or two byte property, or its default.
func (s *ObjectStore) Property(obj uint16, prop uint16) uint16 {
	addr, size := s.PropertyOrDefault(obj, prop)

	switch size {
	case 1:
		return uint16(s.readByte(addr))
	case 2:
		return s.readWord(addr)
	}

	raise(ErrPropertySize, "get_prop %d on object %d has size %d", prop, obj, size)

	return 0
}

func (s *ObjectStore) PutProperty(obj uint16, prop uint16, value uint16) {
	addr, size, ok := s.PropertyAddr(obj, prop)

	if !ok {
		raise(ErrNoProperty, "put_prop %d on object %d", prop, obj)
	}

	switch size {
	case 1:
		s.writeByte(addr, value)
	case 2:
		s.writeWord(addr, value)
	default:
		raise(ErrPropertySize, "put_prop %d on object %d has size %d", prop, obj, size)
	}
}

// Numbers of every property obj carries, in stored order.
func (s *ObjectStore) Properties(obj uint16) []uint16 {
	var result []uint16

	for cursor := s.propertyList(obj); ; {
		b := s.readByte(cursor)

		if b == 0 {
			return result
		}

		number, size := decodeSizeByte(b)
		result = append(result, number)
		cursor += 1 + uint32(size)
	}
}
