//go:build linux

package reactor

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/sys/unix"
)

const (
	bufferPrependSize = 8
	bufferInitialSize = 1024
	scatterExtraSize  = 65536
)

var crlf = []byte("\r\n")

// Buffer is a prepend/read/write window byte buffer, the Go analogue of
// Asuka::Net::Buffer:
//
//	+--------------------+----------------+----------------+
//	|  prependable bytes  | readable bytes | writable bytes |
//	+--------------------+----------------+----------------+
//	0                    readIdx          writeIdx         len(buf)
//
// It is not safe for concurrent use; each TcpConnection owns two (input,
// output), both accessed only from the connection's owning EventLoop.
type Buffer struct {
	buf      []byte
	readIdx  int
	writeIdx int
}

// NewBuffer returns a Buffer with the given initial readable capacity plus
// the fixed prepend reserve, matching Buffer::Buffer(initSize).
func NewBuffer(initSize int) *Buffer {
	if initSize <= 0 {
		initSize = bufferInitialSize
	}
	return &Buffer{
		buf:      make([]byte, initSize+bufferPrependSize),
		readIdx:  bufferPrependSize,
		writeIdx: bufferPrependSize,
	}
}

// Readable returns the number of bytes available to read.
func (b *Buffer) Readable() int { return b.writeIdx - b.readIdx }

// Writable returns the number of bytes available to write without growing.
func (b *Buffer) Writable() int { return len(b.buf) - b.writeIdx }

// Prependable returns the number of bytes before the readable region.
func (b *Buffer) Prependable() int { return b.readIdx }

// Peek returns a slice view over the readable region without consuming it.
func (b *Buffer) Peek() []byte { return b.buf[b.readIdx:b.writeIdx] }

// Retrieve advances the read index by n. If n equals Readable(), both
// indices reset to the prepend reserve, per §4.C's contract.
func (b *Buffer) Retrieve(n int) {
	if n < b.Readable() {
		b.readIdx += n
	} else {
		b.RetrieveAll()
	}
}

// RetrieveAll discards all readable bytes.
func (b *Buffer) RetrieveAll() {
	b.readIdx = bufferPrependSize
	b.writeIdx = bufferPrependSize
}

// RetrieveUntil discards bytes up to (not including) the given offset into
// the readable region, counted from the current read index.
func (b *Buffer) RetrieveUntil(offset int) {
	b.Retrieve(offset)
}

// RetrieveAllAsString drains the entire readable region as a string.
func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.Readable())
}

// RetrieveAsString drains n readable bytes as a string.
func (b *Buffer) RetrieveAsString(n int) string {
	s := string(b.buf[b.readIdx : b.readIdx+n])
	b.Retrieve(n)
	return s
}

// Append appends data to the readable region, growing or compacting the
// backing array as needed. It never invalidates bytes already readable.
func (b *Buffer) Append(data []byte) {
	b.ensureWritable(len(data))
	copy(b.buf[b.writeIdx:], data)
	b.writeIdx += len(data)
}

// AppendUint64 appends a big-endian uint64.
func (b *Buffer) AppendUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.Append(tmp[:])
}

// AppendUint32 appends a big-endian uint32.
func (b *Buffer) AppendUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.Append(tmp[:])
}

// AppendUint16 appends a big-endian uint16.
func (b *Buffer) AppendUint16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.Append(tmp[:])
}

// AppendUint8 appends a single byte.
func (b *Buffer) AppendUint8(v uint8) {
	b.Append([]byte{v})
}

// PeekUint64 reads (without consuming) a big-endian uint64 from the front
// of the readable region.
func (b *Buffer) PeekUint64() uint64 {
	return binary.BigEndian.Uint64(b.Peek())
}

// PeekUint32 reads a big-endian uint32 from the front of the readable
// region.
func (b *Buffer) PeekUint32() uint32 {
	return binary.BigEndian.Uint32(b.Peek())
}

// PeekUint16 reads a big-endian uint16 from the front of the readable
// region.
func (b *Buffer) PeekUint16() uint16 {
	return binary.BigEndian.Uint16(b.Peek())
}

// FindCRLF returns the offset (from the read index) of the first "\r\n" in
// the readable region, or -1 if absent.
func (b *Buffer) FindCRLF() int {
	return bytes.Index(b.Peek(), crlf)
}

// FindEOL returns the offset (from the read index) of the first '\n' in
// the readable region, or -1 if absent.
func (b *Buffer) FindEOL() int {
	return bytes.IndexByte(b.Peek(), '\n')
}

// ReadFD performs a scatter read directly from fd into the writable
// region, spilling overflow into a 64 KiB stack buffer and appending it,
// matching Buffer::read_fd's two-vector readv strategy. On success it
// returns the number of bytes read; on failure it returns -1 and the
// errno.
func (b *Buffer) ReadFD(fd int) (int, error) {
	var extra [scatterExtraSize]byte
	writable := b.Writable()

	iovs := make([][]byte, 1, 2)
	iovs[0] = b.buf[b.writeIdx:]
	if writable < scatterExtraSize {
		iovs = append(iovs, extra[:])
	}

	n, err := unix.Readv(fd, iovs)
	if err != nil {
		return -1, err
	}
	switch {
	case n <= writable:
		b.writeIdx += n
	default:
		b.writeIdx += writable
		b.Append(extra[:n-writable])
	}
	return n, nil
}

func (b *Buffer) ensureWritable(need int) {
	if b.Writable() >= need {
		return
	}
	if b.Prependable()-bufferPrependSize+b.Writable() >= need {
		// Compact: slide the readable region down to the prepend reserve.
		readable := b.Readable()
		copy(b.buf[bufferPrependSize:], b.buf[b.readIdx:b.writeIdx])
		b.readIdx = bufferPrependSize
		b.writeIdx = b.readIdx + readable
		return
	}
	grown := make([]byte, b.writeIdx+need)
	copy(grown, b.buf)
	b.buf = grown
}
