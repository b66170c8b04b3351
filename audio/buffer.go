package audio

import "sync"

// pcmBuffer is a bounded FIFO between a device callback and a blocking reader or writer.
type pcmBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	limit  int
	closed bool
}

func newPCMBuffer(limit int) *pcmBuffer {
	b := &pcmBuffer{limit: limit}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// push appends without blocking, dropping the oldest bytes past the limit.
func (b *pcmBuffer) push(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		// keep sample alignment when dropping
		over += over % BytesPerSample
		b.buf = b.buf[over:]
	}
	b.cond.Broadcast()
}

// write appends p, blocking while the buffer has no room for it.
func (b *pcmBuffer) write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for !b.closed && len(b.buf) > 0 && len(b.buf)+len(p) > b.limit {
		b.cond.Wait()
	}
	if b.closed {
		return 0, ErrClosed
	}
	b.buf = append(b.buf, p...)
	b.cond.Broadcast()
	return len(p), nil
}

// read blocks until at least one byte is available and copies as much as fits into p.
func (b *pcmBuffer) read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for !b.closed && len(b.buf) == 0 {
		b.cond.Wait()
	}
	if len(b.buf) == 0 {
		return 0, ErrClosed
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	b.cond.Broadcast()
	return n, nil
}

// drain fills p from the buffer without blocking and pads the rest with silence.
func (b *pcmBuffer) drain(p []byte) int {
	b.mu.Lock()
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	b.cond.Broadcast()
	b.mu.Unlock()
	clear(p[n:])
	return n
}

func (b *pcmBuffer) close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}
