package uart

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testQueueConfig(maxLength, maxMessages int, delimiter string) Config {
	cfg := DefaultConfig()
	cfg.MaxMessageLength = maxLength
	cfg.MaxMessages = maxMessages
	cfg.Delimiter = delimiter
	return cfg
}

func drainQueue(q *MessageQueue) (msgs []string) {
	for {
		msg, err := q.TakeNext()
		if err != nil {
			return
		}
		msgs = append(msgs, msg)
	}
}

func TestMessageQueueFeedRaw(t *testing.T) {
	testCases := []struct {
		name      string
		delimiter string
		feeds     []string
		expect    []string
		pending   string
	}{
		{"commands", "\n", []string{"start ch0 none\nstop ch1\n"}, []string{"start ch0 none", "stop ch1"}, ""},
		{"split across feeds", "\n", []string{"sta", "rt\nst", "op\n"}, []string{"start", "stop"}, ""},
		{"partial kept", "\n", []string{"abc\nde"}, []string{"abc"}, "de"},
		{"empty lines", "\n", []string{"\n\na\n\n"}, []string{"a"}, ""},
		{"max length accepted", "\n", []string{"0123456789\n"}, []string{"0123456789"}, ""},
		{"overlong dropped", "\n", []string{"0123456789X\nok\n"}, []string{"ok"}, ""},
		{"overlong across feeds", "\n", []string{"0123456789", "XYZ", "tail\nok\n"}, []string{"ok"}, ""},
		{"multi-byte delimiter", "\r\n", []string{"a\r", "\nb\r\nc"}, []string{"a", "b"}, "c"},
		{"multi-byte overlong", "\r\n", []string{"0123456789ABC\r", "\nnext\r\n"}, []string{"next"}, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			q := NewMessageQueue(testQueueConfig(10, 25, tc.delimiter))
			for _, feed := range tc.feeds {
				require.NoError(t, q.FeedRaw([]byte(feed)))
			}
			require.Equal(t, tc.expect, drainQueue(q))
			require.Equal(t, tc.pending, q.Pending())
		})
	}
}

func TestMessageQueueSplitProperty(t *testing.T) {
	input := "alpha\nbeta\ngamma delta\nepsilon\n"
	whole := NewMessageQueue(testQueueConfig(20, 25, "\n"))
	require.NoError(t, whole.FeedRaw([]byte(input)))
	expect := drainQueue(whole)
	for size := 1; size <= len(input); size++ {
		q := NewMessageQueue(testQueueConfig(20, 25, "\n"))
		for start := 0; start < len(input); start += size {
			end := start + size
			if end > len(input) {
				end = len(input)
			}
			require.NoError(t, q.FeedRaw([]byte(input[start:end])))
		}
		require.Equal(t, expect, drainQueue(q), "chunk size %d", size)
	}
}

func TestMessageQueueEviction(t *testing.T) {
	q := NewMessageQueue(testQueueConfig(20, 3, "\n"))
	require.NoError(t, q.Put("m1"))
	require.NoError(t, q.Put("m2"))
	require.NoError(t, q.Put("m3"))
	require.False(t, q.Overflow())
	require.Equal(t, ErrMessageBoxOverfill, q.Put("m4"))
	require.True(t, q.Overflow())
	require.Equal(t, 3, q.Len())
	require.Equal(t, []string{"m2", "m3", "m4"}, drainQueue(q))

	// FeedRaw clears the flag before processing.
	require.NoError(t, q.FeedRaw([]byte("a\n")))
	require.False(t, q.Overflow())
	require.Equal(t, ErrMessageBoxOverfill, q.FeedRaw([]byte("b\nc\nd\ne\n")))
	require.True(t, q.Overflow())
	require.Equal(t, []string{"c", "d", "e"}, drainQueue(q))
	require.Equal(t, 3, q.evicted)
	q.ClearOverflow()
	require.False(t, q.Overflow())
}

func TestMessageQueueTakeNext(t *testing.T) {
	q := NewMessageQueue(DefaultConfig())
	_, err := q.TakeNext()
	require.Equal(t, ErrNoPendingMessages, err)
	require.NoError(t, q.Put(""))
	require.True(t, q.Empty())
}

func TestMessageQueueTakeChunk(t *testing.T) {
	q := NewMessageQueue(DefaultConfig())
	_, ok := q.TakeChunk(8)
	require.False(t, ok)

	msgs := []string{"hello\n", "a much longer message\n", "x\n"}
	for _, msg := range msgs {
		require.NoError(t, q.Put(msg))
	}
	var chunks []string
	for {
		chunk, ok := q.TakeChunk(8)
		if !ok {
			break
		}
		require.True(t, len(chunk) <= 8)
		require.NotEmpty(t, chunk)
		chunks = append(chunks, chunk)
	}
	require.Equal(t, strings.Join(msgs, ""), strings.Join(chunks, ""))
	require.Equal(t, "hello\na ", chunks[0])
	require.True(t, q.Empty())
}
