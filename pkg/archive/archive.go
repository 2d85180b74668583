// Package archive reads the flat offset/size tables used by _amh and _tex containers.
package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/Faultbox/amh-tools/pkg/binreader"
)

// Archive errors.
var (
	ErrMalformedTree = errors.New("malformed data tree")
	ErrEntryNotFound = errors.New("archive entry not found")
)

// entrySize is the on-disk size of one table entry.
const entrySize = 8

// Entry locates one subfile inside the parent buffer.
type Entry struct {
	Offset uint32
	Size   uint32
}

// End returns the exclusive end offset of the entry.
func (e Entry) End() uint64 {
	return uint64(e.Offset) + uint64(e.Size)
}

// Index is a parsed archive table over its source buffer.
type Index struct {
	Entries []Entry

	data  []byte
	order binary.ByteOrder
}

// Parse reads a u32 entry count followed by that many (offset, size) pairs.
// Every entry is validated against the buffer length.
func Parse(data []byte, order binary.ByteOrder) (*Index, error) {
	r := binreader.New(data, order)

	count, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("reading entry count: %w", err)
	}
	if uint64(count)*entrySize > uint64(r.Remaining()) {
		return nil, fmt.Errorf("%w: %d entries do not fit in %d bytes", binreader.ErrUnexpectedEOF, count, len(data))
	}

	idx := &Index{
		Entries: make([]Entry, count),
		data:    data,
		order:   r.Order(),
	}

	for i := range idx.Entries {
		e := &idx.Entries[i]
		if e.Offset, err = r.U32(); err != nil {
			return nil, fmt.Errorf("reading entry %d offset: %w", i, err)
		}
		if e.Size, err = r.U32(); err != nil {
			return nil, fmt.Errorf("reading entry %d size: %w", i, err)
		}
		if e.End() > uint64(len(data)) {
			return nil, fmt.Errorf("%w: entry %d [0x%X, 0x%X) exceeds archive length 0x%X",
				ErrMalformedTree, i, e.Offset, e.End(), len(data))
		}
	}

	return idx, nil
}

// Open reads an archive file from disk and parses its table.
func Open(path string, order binary.ByteOrder) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	return Parse(data, order)
}

// Len returns the number of entries.
func (x *Index) Len() int {
	return len(x.Entries)
}

// Order returns the byte order the table was read with.
func (x *Index) Order() binary.ByteOrder {
	return x.order
}

// Subfile returns the bytes of entry i. The slice aliases the source buffer.
func (x *Index) Subfile(i int) ([]byte, error) {
	if i < 0 || i >= len(x.Entries) {
		return nil, fmt.Errorf("%w: %d of %d", ErrEntryNotFound, i, len(x.Entries))
	}
	e := x.Entries[i]
	if e.End() > uint64(len(x.data)) {
		return nil, fmt.Errorf("%w: entry %d exceeds archive length", ErrMalformedTree, i)
	}
	return x.data[e.Offset:e.End()], nil
}

// Copy returns a detached copy of entry i.
func (x *Index) Copy(i int) ([]byte, error) {
	b, err := x.Subfile(i)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// Reader returns a fresh reader over entry i using the table's byte order.
func (x *Index) Reader(i int) (*binreader.Reader, error) {
	b, err := x.Subfile(i)
	if err != nil {
		return nil, err
	}
	return binreader.New(b, x.order), nil
}
