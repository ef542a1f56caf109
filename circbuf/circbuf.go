// Package circbuf implements a fixed-size circular byte buffer used
// by condev to back the console device. The teacher's Circbuf_t is
// wired to mem.Page_i (lazy physical-page backing) and
// fdops.Userio_i (user/kernel address-space copy); this
// reimplementation has no address-space boundary to cross at this
// layer (that crossing happens in vm.Addrspace_t), so it is
// generalized to plain io.Reader/io.Writer and a regular []byte,
// keeping the same head/tail wraparound bookkeeping.
package circbuf

import "io"

/// Circbuf_t is a fixed-capacity ring buffer. Not safe for concurrent
/// use; callers (condev) serialize access themselves.
type Circbuf_t struct {
	buf   []uint8
	bufsz int
	head  int
	tail  int
}

/// MkCircbuf allocates a ring buffer of the given capacity.
func MkCircbuf(sz int) *Circbuf_t {
	if sz <= 0 {
		panic("bad circbuf size")
	}
	return &Circbuf_t{buf: make([]uint8, sz), bufsz: sz}
}

/// Bufsz returns the configured capacity.
func (cb *Circbuf_t) Bufsz() int { return cb.bufsz }

/// Full reports whether the buffer can accept no more data.
func (cb *Circbuf_t) Full() bool { return cb.head-cb.tail == cb.bufsz }

/// Empty reports whether the buffer holds no data.
func (cb *Circbuf_t) Empty() bool { return cb.head == cb.tail }

/// Left returns the remaining write capacity in bytes.
func (cb *Circbuf_t) Left() int { return cb.bufsz - (cb.head - cb.tail) }

/// Used returns the number of unread bytes currently buffered.
func (cb *Circbuf_t) Used() int { return cb.head - cb.tail }

/// Copyin reads as much of src as fits into the buffer, returning the
/// number of bytes copied in. Returns (0, nil) if the buffer is full.
func (cb *Circbuf_t) Copyin(src io.Reader) (int, error) {
	if cb.Full() {
		return 0, nil
	}
	hi := cb.head % cb.bufsz
	ti := cb.tail % cb.bufsz
	c := 0

	if ti <= hi {
		dst := cb.buf[hi:]
		n, err := src.Read(dst)
		c += n
		cb.head += n
		if err != nil || n != len(dst) {
			return c, err
		}
		hi = cb.head % cb.bufsz
	}
	if hi > ti {
		panic("circbuf: wraparound invariant violated")
	}
	dst := cb.buf[hi:ti]
	if len(dst) == 0 {
		return c, nil
	}
	n, err := src.Read(dst)
	c += n
	cb.head += n
	return c, err
}

/// Copyout writes the entire buffered contents to dst.
func (cb *Circbuf_t) Copyout(dst io.Writer) (int, error) {
	return cb.CopyoutN(dst, 0)
}

/// CopyoutN writes up to max buffered bytes to dst (all of them if max
/// is 0).
func (cb *Circbuf_t) CopyoutN(dst io.Writer, max int) (int, error) {
	if cb.Empty() {
		return 0, nil
	}
	hi := cb.head % cb.bufsz
	ti := cb.tail % cb.bufsz
	c := 0

	if hi <= ti {
		src := cb.buf[ti:]
		if max != 0 && max < len(src) {
			src = src[:max]
		}
		n, err := dst.Write(src)
		c += n
		cb.tail += n
		if err != nil || n != len(src) {
			return c, err
		}
		if max != 0 {
			max -= n
			if max == 0 {
				return c, nil
			}
		}
		ti = cb.tail % cb.bufsz
	}
	src := cb.buf[ti:hi]
	if max != 0 && max < len(src) {
		src = src[:max]
	}
	if len(src) == 0 {
		return c, nil
	}
	n, err := dst.Write(src)
	c += n
	cb.tail += n
	return c, err
}

/// Advhead advances the head index by sz, counting sz more bytes of
/// the backing slice as buffered and readable.
func (cb *Circbuf_t) Advhead(sz int) {
	if cb.Left() < sz {
		panic("circbuf: Advhead beyond capacity")
	}
	cb.head += sz
}

/// Advtail advances the tail index by sz, discarding sz buffered bytes
/// without copying them out.
func (cb *Circbuf_t) Advtail(sz int) {
	if cb.Used() < sz {
		panic("circbuf: Advtail beyond buffered data")
	}
	cb.tail += sz
}
