// Package memsys provides per-order page pools that recycle fixed-size blocks of pages
// and give them back to the page provider under memory pressure.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"io"

	"github.com/pkg/errors"
)

// Buffer is a scatter-gather list of blocks with a write offset (woff) and a read
// offset (roff); capacity is fixed at Size, blocks may be of different orders

// interface guard
var (
	_ io.ReadWriter  = (*Buffer)(nil)
	_ io.ReaderFrom  = (*Buffer)(nil)
	_ io.WriterTo    = (*Buffer)(nil)
	_ io.ReadSeeker  = (*Reader)(nil)
	_ io.WriterAt    = (*Buffer)(nil)
	_ io.ByteScanner = (*Buffer)(nil)
)

var errFreed = errors.New("memsys: buffer already freed")

func (buf *Buffer) Cap() int64  { return buf.Size }
func (buf *Buffer) Len() int64  { return buf.woff - buf.roff }
func (buf *Buffer) Roff() int64 { return buf.roff }
func (buf *Buffer) Woff() int64 { return buf.woff }

func (buf *Buffer) Reset()  { buf.woff, buf.roff = 0, 0 }
func (buf *Buffer) Rewind() { buf.roff = 0 }

// returns block index and offset within the block
func (buf *Buffer) locate(off int64) (int, int64) {
	for i, b := range buf.Blocks {
		if off < b.Size() {
			return i, off
		}
		off -= b.Size()
	}
	return len(buf.Blocks), 0
}

// Write fails with io.ErrShortBuffer when p does not fit
func (buf *Buffer) Write(p []byte) (n int, err error) {
	if buf.freed.Load() {
		return 0, errFreed
	}
	if avail := buf.Size - buf.woff; int64(len(p)) > avail {
		p, err = p[:avail], io.ErrShortBuffer
	}
	idx, off := buf.locate(buf.woff)
	for len(p) > 0 {
		c := copy(buf.Blocks[idx].buf[off:], p)
		n += c
		p = p[c:]
		buf.woff += int64(c)
		idx++
		off = 0
	}
	return
}

func (buf *Buffer) WriteByte(c byte) error {
	_, err := buf.Write([]byte{c})
	return err
}

// WriteAt overwrites bytes already written: [off, off+len(p)) must lie within [0, woff);
// does not move woff
func (buf *Buffer) WriteAt(p []byte, off int64) (n int, err error) {
	if end := off + int64(len(p)); off < 0 || end > buf.woff {
		return 0, errors.Wrapf(ErrWriteRange, "[%d, %d) with %d bytes written", off, end, buf.woff)
	}
	prev := buf.woff
	buf.woff = off
	n, err = buf.Write(p)
	buf.woff = prev
	return
}

// usage via io.Copy(buf, src), reads until EOF or until the buffer is full
func (buf *Buffer) ReadFrom(r io.Reader) (n int64, err error) {
	if buf.freed.Load() {
		return 0, errFreed
	}
	for buf.woff < buf.Size {
		idx, off := buf.locate(buf.woff)
		m, errR := r.Read(buf.Blocks[idx].buf[off:])
		buf.woff += int64(m)
		n += int64(m)
		if errR != nil {
			if errR == io.EOF {
				return n, nil
			}
			return n, errR
		}
	}
	// full - check for leftovers
	var extra [1]byte
	if m, _ := r.Read(extra[:]); m > 0 {
		err = io.ErrShortBuffer
	}
	return
}

// usage via io.Copy(dst, buf), writes from roff to woff
func (buf *Buffer) WriteTo(dst io.Writer) (n int64, err error) {
	idx, off := buf.locate(buf.roff)
	for buf.roff < buf.woff {
		b := buf.Blocks[idx].buf
		end := min(int64(len(b)), off+buf.woff-buf.roff)
		written, errW := dst.Write(b[off:end])
		m := int64(written)
		n += m
		buf.roff += m
		if m < end-off && errW == nil {
			errW = io.ErrShortWrite
		}
		if errW != nil {
			return n, errW
		}
		idx++
		off = 0
	}
	return
}

func (buf *Buffer) Read(b []byte) (n int, err error) {
	n, buf.roff, err = buf.readAt(b, buf.roff)
	return
}

func (buf *Buffer) ReadByte() (byte, error) {
	var (
		b           [1]byte
		_, off, err = buf.readAt(b[:], buf.roff)
	)
	buf.roff = off
	return b[0], err
}

func (buf *Buffer) UnreadByte() error {
	if buf.roff == 0 {
		return errors.New("memsys: cannot unread-byte at zero offset")
	}
	buf.roff--
	return nil
}

func (buf *Buffer) readAt(b []byte, roffin int64) (n int, roff int64, err error) {
	roff = roffin
	if roff >= buf.woff {
		return 0, roff, io.EOF
	}
	idx, off := buf.locate(roff)
	for n < len(b) && roff < buf.woff {
		blk := buf.Blocks[idx].buf
		end := min(int64(len(blk)), off+buf.woff-roff)
		c := copy(b[n:], blk[off:end])
		n += c
		roff += int64(c)
		idx++
		off = 0
	}
	if n < len(b) {
		err = io.EOF
	}
	return
}

////////////
// Reader //
////////////

// Reader implements io.ReadSeeker on top of an existing Buffer; a buffer written once
// can be read by multiple concurrent Readers
type Reader struct {
	buf  *Buffer
	roff int64
}

func NewReader(buf *Buffer) *Reader { return &Reader{buf: buf} }

func (r *Reader) Read(b []byte) (n int, err error) {
	n, r.roff, err = r.buf.readAt(b, r.roff)
	return n, err
}

func (r *Reader) Seek(from int64, whence int) (offset int64, err error) {
	switch whence {
	case io.SeekStart:
		offset = from
	case io.SeekCurrent:
		offset = r.roff + from
	case io.SeekEnd:
		offset = r.buf.woff + from
	default:
		return 0, errors.New("memsys: invalid whence")
	}
	if offset < 0 {
		return 0, errors.New("memsys: negative position")
	}
	r.roff = offset
	return
}
