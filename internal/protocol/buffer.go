package protocol

import "encoding/binary"

// ReadBuffer decodes integers, flags and length-prefixed strings from a
// fixed slice. Reads past the end yield zero values instead of aborting and
// the position keeps advancing, so a caller decodes a whole frame and checks
// Overflowed once at the end.
type ReadBuffer struct {
	data []byte
	pos  int
}

func NewReadBuffer(data []byte) *ReadBuffer {
	return &ReadBuffer{data: data}
}

// Overflowed reports whether any read ran past the end of the buffer.
func (b *ReadBuffer) Overflowed() bool {
	return b.pos > len(b.data)
}

func (b *ReadBuffer) canRead(n int) bool {
	return b.pos >= 0 && b.pos+n <= len(b.data)
}

func (b *ReadBuffer) ReadFlag() bool {
	return b.Read8() != 0
}

func (b *ReadBuffer) Read8() uint8 {
	var v uint8
	if b.canRead(1) {
		v = b.data[b.pos]
	}
	b.pos++
	return v
}

func (b *ReadBuffer) Read16() uint16 {
	var v uint16
	if b.canRead(2) {
		v = binary.LittleEndian.Uint16(b.data[b.pos:])
	}
	b.pos += 2
	return v
}

func (b *ReadBuffer) Read32() uint32 {
	var v uint32
	if b.canRead(4) {
		v = binary.LittleEndian.Uint32(b.data[b.pos:])
	}
	b.pos += 4
	return v
}

// Read32BE reads a big endian 32 bit value. IPv4 addresses travel in network
// byte order while everything else is little endian.
func (b *ReadBuffer) Read32BE() uint32 {
	var v uint32
	if b.canRead(4) {
		v = binary.BigEndian.Uint32(b.data[b.pos:])
	}
	b.pos += 4
	return v
}

func (b *ReadBuffer) Read64() uint64 {
	var v uint64
	if b.canRead(8) {
		v = binary.LittleEndian.Uint64(b.data[b.pos:])
	}
	b.pos += 8
	return v
}

// ReadString reads a u16 length followed by that many bytes. A length of
// 0xFFFF escapes to a u32 length.
func (b *ReadBuffer) ReadString() string {
	n := int(b.Read16())
	if n == 0xFFFF {
		n = int(b.Read32())
	}
	var s string
	if b.canRead(n) {
		s = string(b.data[b.pos : b.pos+n])
	}
	b.pos += n
	return s
}

// WriteBuffer encodes into a fixed slice. Writes past the end are dropped
// while the position keeps advancing; the caller checks Overflowed once
// after encoding.
type WriteBuffer struct {
	data []byte
	pos  int
}

func NewWriteBuffer(data []byte) *WriteBuffer {
	return &WriteBuffer{data: data}
}

// Len returns the number of bytes written so far, counting dropped ones.
func (b *WriteBuffer) Len() int {
	return b.pos
}

// Bytes returns the encoded frame. Only valid when not overflowed.
func (b *WriteBuffer) Bytes() []byte {
	return b.data[:b.pos]
}

// Overflowed reports whether any write ran past the end of the buffer.
func (b *WriteBuffer) Overflowed() bool {
	return b.pos > len(b.data)
}

func (b *WriteBuffer) canWrite(n int) bool {
	return b.pos >= 0 && b.pos+n <= len(b.data)
}

func (b *WriteBuffer) WriteFlag(v bool) {
	if v {
		b.Write8(1)
	} else {
		b.Write8(0)
	}
}

func (b *WriteBuffer) Write8(v uint8) {
	if b.canWrite(1) {
		b.data[b.pos] = v
	}
	b.pos++
}

func (b *WriteBuffer) Write16(v uint16) {
	if b.canWrite(2) {
		binary.LittleEndian.PutUint16(b.data[b.pos:], v)
	}
	b.pos += 2
}

func (b *WriteBuffer) Write32(v uint32) {
	if b.canWrite(4) {
		binary.LittleEndian.PutUint32(b.data[b.pos:], v)
	}
	b.pos += 4
}

func (b *WriteBuffer) Write32BE(v uint32) {
	if b.canWrite(4) {
		binary.BigEndian.PutUint32(b.data[b.pos:], v)
	}
	b.pos += 4
}

func (b *WriteBuffer) Write64(v uint64) {
	if b.canWrite(8) {
		binary.LittleEndian.PutUint64(b.data[b.pos:], v)
	}
	b.pos += 8
}

// WriteString writes a u16 length prefix, escaping to 0xFFFF + u32 for
// strings of 65535 bytes or longer, followed by the bytes.
func (b *WriteBuffer) WriteString(s string) {
	if len(s) >= 0xFFFF {
		b.Write16(0xFFFF)
		b.Write32(uint32(len(s)))
	} else {
		b.Write16(uint16(len(s)))
	}
	if b.canWrite(len(s)) {
		copy(b.data[b.pos:], s)
	}
	b.pos += len(s)
}

// Rewrite16 patches an already written u16 in place. Positions at or past
// the current write position are ignored.
func (b *WriteBuffer) Rewrite16(pos int, v uint16) {
	if pos >= 0 && pos+2 <= b.pos && pos+2 <= len(b.data) {
		binary.LittleEndian.PutUint16(b.data[pos:], v)
	}
}

// Insert32 shifts everything from pos onward right by four bytes and writes
// v into the gap. Used to widen a frame header after the payload turned out
// to need the 32 bit length escape.
func (b *WriteBuffer) Insert32(pos int, v uint32) {
	if pos < 0 || pos > b.pos {
		return
	}
	if b.canWrite(4) {
		copy(b.data[pos+4:b.pos+4], b.data[pos:b.pos])
		binary.LittleEndian.PutUint32(b.data[pos:], v)
	}
	b.pos += 4
}
