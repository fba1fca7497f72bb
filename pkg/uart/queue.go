package uart

import (
	"bytes"
	"container/list"
	"strings"
)

// MessageQueue is a bounded FIFO of complete text messages with an
// accumulator for the line currently being received.
type MessageQueue struct {
	maxMessages int
	maxLength   int
	delimiter   []byte

	messages list.List
	pending  []byte
	dropping bool
	overflow bool

	evicted int
	dropped int
}

// NewMessageQueue creates a MessageQueue using limits and delimiter from cfg.
func NewMessageQueue(cfg Config) *MessageQueue {
	if cfg.MaxMessages < 1 {
		cfg.MaxMessages = 1
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = DefaultDelimiter
	}
	return &MessageQueue{
		maxMessages: cfg.MaxMessages,
		maxLength:   cfg.MaxMessageLength,
		delimiter:   []byte(cfg.Delimiter),
	}
}

// Len returns the number of complete messages queued.
func (q *MessageQueue) Len() int {
	return q.messages.Len()
}

// Empty indicates no complete message is queued.
func (q *MessageQueue) Empty() bool {
	return q.messages.Len() == 0
}

// Pending returns the accumulated, not yet terminated line.
func (q *MessageQueue) Pending() string {
	if q.dropping {
		return ""
	}
	return string(q.pending)
}

// Overflow reports the latched overflow flag.
func (q *MessageQueue) Overflow() bool {
	return q.overflow
}

// ClearOverflow clears the overflow flag.
func (q *MessageQueue) ClearOverflow() {
	q.overflow = false
}

// FeedRaw splits raw received bytes into messages. A line longer than the
// maximum message length is dropped whole, even when its tail arrives in a
// later call; dropping does not raise overflow.
func (q *MessageQueue) FeedRaw(data []byte) error {
	q.ClearOverflow()
	q.pending = append(q.pending, data...)
	for {
		i := bytes.Index(q.pending, q.delimiter)
		if i < 0 {
			break
		}
		if q.dropping || i > q.maxLength {
			q.dropped++
		} else {
			q.Put(string(q.pending[:i]))
		}
		q.dropping = false
		q.pending = q.pending[i+len(q.delimiter):]
	}

	// Bound the accumulator. Only a possible delimiter prefix is worth
	// keeping once the line can no longer fit.
	keep := len(q.delimiter) - 1
	if !q.dropping {
		if len(q.pending) <= q.maxLength+keep {
			keep = -1
		} else {
			q.dropping = true
		}
	}
	if keep >= 0 && len(q.pending) > keep {
		q.pending = q.pending[len(q.pending)-keep:]
	}
	q.pending = append([]byte(nil), q.pending...)

	if q.overflow {
		return ErrMessageBoxOverfill
	}
	return nil
}

// Put appends a message, evicting the oldest ones when the queue is at its
// bound. Empty messages are ignored.
func (q *MessageQueue) Put(msg string) error {
	if msg == "" {
		return nil
	}
	var evicted bool
	for q.messages.Len() >= q.maxMessages {
		q.messages.Remove(q.messages.Front())
		q.evicted++
		evicted = true
	}
	q.messages.PushBack(msg)
	if evicted {
		q.overflow = true
		return ErrMessageBoxOverfill
	}
	return nil
}

// TakeNext pops the oldest message.
func (q *MessageQueue) TakeNext() (string, error) {
	elm := q.messages.Front()
	if elm == nil {
		return "", ErrNoPendingMessages
	}
	q.messages.Remove(elm)
	return elm.Value.(string), nil
}

// requeueFront puts a chunk taken by TakeChunk back at the front. The bound
// is not enforced as the chunk was counted when it was queued.
func (q *MessageQueue) requeueFront(chunk string) {
	if chunk != "" {
		q.messages.PushFront(chunk)
	}
}

// TakeChunk consumes up to max characters from the front of the queue.
// A message that does not fit is split and its remainder stays at the front.
// It returns false when nothing could be produced.
func (q *MessageQueue) TakeChunk(max int) (string, bool) {
	if q.messages.Len() == 0 || max <= 0 {
		return "", false
	}
	var chunk strings.Builder
	for budget := max; budget > 0; {
		elm := q.messages.Front()
		if elm == nil {
			break
		}
		msg := elm.Value.(string)
		if len(msg) <= budget {
			chunk.WriteString(msg)
			budget -= len(msg)
			q.messages.Remove(elm)
			continue
		}
		chunk.WriteString(msg[:budget])
		elm.Value = msg[budget:]
		break
	}
	return chunk.String(), true
}
