package transport

// reorderBuffer reassembles offset-addressed fragments into a contiguous
// byte stream (spec §4.3 CryptoStream, §4.4 Stream "reader_buffer").
//
// It keeps a dense window starting at `offset` (the next byte a consumer
// has not yet read) up to the highest byte offset seen so far, together
// with a parallel bitmap of which window positions are filled. This is
// adequate for QUIC's TLS and application data volumes (spec §4.3:
// CryptoStream payloads "MAY [be bounded] to a reasonable ceiling") and
// keeps duplicate/overlap detection exact without a union-of-intervals
// structure.
type reorderBuffer struct {
	offset    uint64
	window    []byte
	filled    []bool
	finalSize int64 // -1 until a FIN fixes it
}

func (b *reorderBuffer) init() {
	b.finalSize = -1
}

// push merges a fragment into the buffer. Bytes entirely before `offset`
// are silently discarded as duplicates (spec §4.4). Bytes that overlap an
// already-buffered, not-yet-delivered region with different content are a
// protocol error. fin, if set, fixes the stream's final size; a
// conflicting final size, or data beyond a previously fixed final size, is
// a FINAL_SIZE_ERROR (spec §4.4).
func (b *reorderBuffer) push(data []byte, offset uint64, fin bool) error {
	end := offset + uint64(len(data))
	if fin {
		if b.finalSize >= 0 && b.finalSize != int64(end) {
			return newError(FinalSizeError, "final size mismatch")
		}
		b.finalSize = int64(end)
	}
	if b.finalSize >= 0 && end > uint64(b.finalSize) {
		return newError(FinalSizeError, "data beyond final size")
	}
	if end <= b.offset {
		return nil // fully duplicate
	}
	if offset < b.offset {
		trim := b.offset - offset
		data = data[trim:]
		offset = b.offset
	}
	relEnd := int(offset - b.offset + uint64(len(data)))
	if relEnd > len(b.window) {
		grow := relEnd - len(b.window)
		b.window = append(b.window, make([]byte, grow)...)
		b.filled = append(b.filled, make([]bool, grow)...)
	}
	relStart := int(offset - b.offset)
	for i, c := range data {
		idx := relStart + i
		if b.filled[idx] {
			if b.window[idx] != c {
				return newError(ProtocolViolation, "conflicting stream data")
			}
			continue
		}
		b.window[idx] = c
		b.filled[idx] = true
	}
	return nil
}

// readable returns the contiguous filled prefix available for delivery.
func (b *reorderBuffer) readable() []byte {
	n := 0
	for n < len(b.filled) && b.filled[n] {
		n++
	}
	return b.window[:n]
}

// advance marks n bytes of the readable prefix as delivered.
func (b *reorderBuffer) advance(n int) {
	b.offset += uint64(n)
	b.window = b.window[n:]
	b.filled = b.filled[n:]
}

// finReached reports whether every byte up to the final size has been
// delivered (the reader has observed FIN with no gaps remaining).
func (b *reorderBuffer) finReached() bool {
	return b.finalSize >= 0 && b.offset == uint64(b.finalSize) && len(b.readable()) == 0
}

// sendQueue is the writer-side counterpart: bytes accumulate until the
// packet builder drains them (spec §4.4 "writer_buffer").
type sendQueue struct {
	buf      []byte
	offset   uint64
	closed   bool
	finSent  bool
}

func (q *sendQueue) push(b []byte) {
	q.buf = append(q.buf, b...)
}

func (q *sendQueue) closeWrite() {
	q.closed = true
}

func (q *sendQueue) hasPending() bool {
	return len(q.buf) > 0 || (q.closed && !q.finSent)
}

// pop removes up to max bytes for inclusion in an outgoing frame.
func (q *sendQueue) pop(max int) (chunk []byte, offset uint64, fin bool) {
	n := max
	if n > len(q.buf) {
		n = len(q.buf)
	}
	chunk = q.buf[:n]
	offset = q.offset
	q.buf = q.buf[n:]
	q.offset += uint64(n)
	if len(q.buf) == 0 && q.closed && !q.finSent {
		fin = true
		q.finSent = true
	}
	return
}
