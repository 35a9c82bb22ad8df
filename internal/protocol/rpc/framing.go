package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// Framer reads and writes record-marked messages on a byte stream.
//
// Each record is one or more fragments. A fragment starts with a 4-byte
// big-endian header: bit 31 set marks the last fragment of the record and
// the low 31 bits hold the fragment length.
//
// ReadMessage must be called from a single goroutine. WriteMessage is safe
// for concurrent use; each record is written atomically with respect to
// other writers.
type Framer struct {
	r       io.Reader
	w       io.Writer
	maxSize uint32

	writeMu sync.Mutex
}

// NewFramer creates a Framer. A maxSize of 0 selects DefaultMaxMessageSize.
func NewFramer(r io.Reader, w io.Writer, maxSize uint32) *Framer {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Framer{r: r, w: w, maxSize: maxSize}
}

// MaxMessageSize returns the limit applied to reassembled records.
func (f *Framer) MaxMessageSize() uint32 {
	return f.maxSize
}

// ReadMessage reads one complete record.
//
// Returns io.EOF when the stream ends cleanly between records and
// io.ErrUnexpectedEOF when it ends inside one. A record whose total length
// exceeds the configured limit is rejected before its body is read.
func (f *Framer) ReadMessage() ([]byte, error) {
	var (
		record []byte
		header [4]byte
		first  = true
	)

	for {
		if _, err := io.ReadFull(f.r, header[:]); err != nil {
			if err == io.EOF && !first {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		first = false

		raw := binary.BigEndian.Uint32(header[:])
		last := raw&lastFragmentBit != 0
		length := raw & maxFragmentLength

		if uint64(len(record))+uint64(length) > uint64(f.maxSize) {
			return nil, fmt.Errorf("record too large: %d bytes (max %d)",
				uint64(len(record))+uint64(length), f.maxSize)
		}

		start := len(record)
		record = append(record, make([]byte, length)...)
		if _, err := io.ReadFull(f.r, record[start:]); err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		if last {
			return record, nil
		}
	}
}

// WriteMessage writes data as a single-fragment record.
func (f *Framer) WriteMessage(data []byte) error {
	if uint64(len(data)) > uint64(f.maxSize) {
		return fmt.Errorf("record too large: %d bytes (max %d)", len(data), f.maxSize)
	}

	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame[:4], lastFragmentBit|uint32(len(data)))
	copy(frame[4:], data)

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	_, err := f.w.Write(frame)
	return err
}
