package uart

// RingBuffer is a fixed-capacity byte ring.
//
// The write cursor may be driven externally (see SetHead) when the backing
// store is filled by a transfer engine instead of PushBack. An explicit count
// is kept alongside head and tail so head == tail is never ambiguous: count 0
// is empty, count == Cap() is full.
type RingBuffer struct {
	buf   []byte
	head  int
	tail  int
	count int
}

// NewRingBuffer creates a RingBuffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		panic("uart: ring buffer capacity must be positive")
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Cap returns the capacity in bytes.
func (b *RingBuffer) Cap() int {
	return len(b.buf)
}

// Len returns the number of unread bytes.
func (b *RingBuffer) Len() int {
	return b.count
}

// Free returns the number of bytes that can be pushed before the buffer is full.
func (b *RingBuffer) Free() int {
	return len(b.buf) - b.count
}

// Head returns the next write position.
func (b *RingBuffer) Head() int {
	return b.head
}

// Tail returns the next read position.
func (b *RingBuffer) Tail() int {
	return b.tail
}

// Bytes exposes the backing store. Drivers deposit received bytes into it
// and transmit staged chunks from it.
func (b *RingBuffer) Bytes() []byte {
	return b.buf
}

// PushBack writes one byte at head. ErrBufferFull is returned when this
// write filled the buffer (the byte is stored) or when the buffer was
// already full (the byte is rejected).
func (b *RingBuffer) PushBack(v byte) error {
	if b.count == len(b.buf) {
		return ErrBufferFull
	}
	b.buf[b.head] = v
	b.head = b.wrap(b.head + 1)
	b.count++
	if b.count == len(b.buf) {
		return ErrBufferFull
	}
	return nil
}

// PopFront reads one byte at tail.
func (b *RingBuffer) PopFront() (byte, error) {
	if b.count == 0 {
		return 0, ErrBufferEmpty
	}
	v := b.buf[b.tail]
	b.tail = b.wrap(b.tail + 1)
	b.count--
	return v, nil
}

// SetHead moves the write cursor to an absolute index, normalized into
// [0, Cap()). The unread count becomes the distance from tail to the new
// head; a full lap of the writer is indistinguishable from no progress.
func (b *RingBuffer) SetHead(index int) {
	b.head = b.wrap(index)
	b.count = b.wrap(b.head - b.tail)
}

// PushChunk stages data at offset 0, replacing whatever the buffer held.
// It is meant to follow Reset, not to append.
func (b *RingBuffer) PushChunk(data []byte) error {
	if len(data) > len(b.buf) {
		return ErrChunkTooLarge
	}
	copy(b.buf, data)
	b.tail = 0
	b.head = b.wrap(len(data))
	b.count = len(data)
	return nil
}

// DrainAll pops every unread byte in order.
func (b *RingBuffer) DrainAll() []byte {
	if b.count == 0 {
		return nil
	}
	out := make([]byte, 0, b.count)
	for b.count > 0 {
		v, _ := b.PopFront()
		out = append(out, v)
	}
	return out
}

// Reset moves both cursors to zero. Contents are left untouched.
func (b *RingBuffer) Reset() {
	b.head, b.tail, b.count = 0, 0, 0
}

func (b *RingBuffer) wrap(index int) int {
	n := len(b.buf)
	index %= n
	if index < 0 {
		index += n
	}
	return index
}
