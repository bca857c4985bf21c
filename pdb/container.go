// Package pdb reads the outer Palm Database container: the fixed header,
// the record offset table and raw record bytes. Record sizes are derived
// from adjacent table offsets with a synthetic sentinel offset equal to
// the total container size, so the last record needs no special case.
package pdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	headerLen      = 78
	recordEntryLen = 8

	typeCreatorOffset = 60
	numRecordsOffset  = 76

	// type/creator tags of the two container flavors we understand
	TypeCreatorMobi    = "BOOKMOBI"
	TypeCreatorPalmDoc = "TEXtREAd"
)

var (
	ErrTooShort    = errors.New("container too short")
	ErrNoRecords   = errors.New("container has no records")
	ErrBadOffsets  = errors.New("record offsets are not non-decreasing")
	ErrRecordRange = errors.New("record index out of range")
)

// Container owns one byte-addressable resource for its lifetime and
// hands out raw records from it. Not safe for concurrent use: record
// reads share one scratch buffer which stays valid only until the
// next read.
type Container struct {
	src    io.ReaderAt
	closer io.Closer // set when we own the underlying file
	size   int64

	typeCreator string
	offsets     []int64 // numRecords+1 entries, last one is the sentinel

	buf []byte // reusable scratch, grows geometrically, never shrinks
}

// Open parses the container header and record offset table of src.
// The caller keeps ownership of src.
func Open(src io.ReaderAt, size int64) (*Container, error) {
	if size < headerLen {
		return nil, ErrTooShort
	}

	var hdr [headerLen]byte
	if _, err := src.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("unable to read container header: %w", err)
	}

	numRecords := int(binary.BigEndian.Uint16(hdr[numRecordsOffset:]))
	if numRecords < 1 {
		return nil, ErrNoRecords
	}

	table := make([]byte, numRecords*recordEntryLen)
	if _, err := src.ReadAt(table, headerLen); err != nil {
		return nil, fmt.Errorf("unable to read record table: %w", err)
	}

	// convert offsets from big-endian once and append the sentinel
	offsets := make([]int64, numRecords+1)
	for i := 0; i < numRecords; i++ {
		offsets[i] = int64(binary.BigEndian.Uint32(table[i*recordEntryLen:]))
	}
	offsets[numRecords] = size

	for i := 0; i < numRecords; i++ {
		if offsets[i+1] < offsets[i] {
			return nil, fmt.Errorf("%w: record %d", ErrBadOffsets, i)
		}
	}

	return &Container{
		src:         src,
		size:        size,
		typeCreator: string(hdr[typeCreatorOffset : typeCreatorOffset+8]),
		offsets:     offsets,
	}, nil
}

// OpenFile opens path and parses it as a container. The returned
// container owns the file and releases it on Close.
func OpenFile(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	c, err := Open(f, fi.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	c.closer = f
	return c, nil
}

// Close releases the underlying file when the container owns one.
func (c *Container) Close() error {
	if c.closer == nil {
		return nil
	}
	err := c.closer.Close()
	c.closer = nil
	return err
}

// NumRecords returns the number of records declared by the container.
func (c *Container) NumRecords() int {
	return len(c.offsets) - 1
}

// TypeCreator returns the 8-byte type/creator tag of the container.
func (c *Container) TypeCreator() string {
	return c.typeCreator
}

// IsMobi reports whether this is a MOBI flavored container.
func (c *Container) IsMobi() bool {
	return c.typeCreator == TypeCreatorMobi
}

// IsPalmDoc reports whether this is a plain PalmDOC container.
func (c *Container) IsPalmDoc() bool {
	return c.typeCreator == TypeCreatorPalmDoc
}

// RecordSize returns the size in bytes of record no.
func (c *Container) RecordSize(no int) (int, error) {
	if no < 0 || no >= c.NumRecords() {
		return 0, fmt.Errorf("%w: %d of %d", ErrRecordRange, no, c.NumRecords())
	}
	return int(c.offsets[no+1] - c.offsets[no]), nil
}

// ReadRecord returns the raw bytes of record no. The returned slice
// aliases the container's scratch buffer and is only valid until the
// next ReadRecord call; copy it to keep it.
func (c *Container) ReadRecord(no int) ([]byte, error) {
	size, err := c.RecordSize(no)
	if err != nil {
		return nil, err
	}
	buf := c.grow(size)
	if _, err := c.src.ReadAt(buf, c.offsets[no]); err != nil {
		return nil, fmt.Errorf("unable to read record %d: %w", no, err)
	}
	return buf, nil
}

func (c *Container) grow(size int) []byte {
	if cap(c.buf) < size {
		newCap := 2 * cap(c.buf)
		if newCap < size {
			newCap = size
		}
		c.buf = make([]byte, newCap)
	}
	return c.buf[:size]
}
