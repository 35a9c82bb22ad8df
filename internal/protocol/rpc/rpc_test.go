package rpc

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Codec Tests
// ============================================================================

func TestEncodeDecodeMessage(t *testing.T) {
	t.Run("Call", func(t *testing.T) {
		in := &Message{
			Type: MsgCall,
			Call: &CallMessage{
				QuestionID:  7,
				Target:      3,
				InterfaceID: 0xdeadbeefcafef00d,
				MethodID:    1,
				Params: Payload{
					Content: []byte{1, 2, 3, 4, 5},
					CapTable: []CapDescriptor{
						{Kind: CapSenderHosted, ID: 9},
						{Kind: CapReceiverHosted, ID: 0},
					},
				},
			},
		}

		data, err := EncodeMessage(in)
		require.NoError(t, err)

		out, err := DecodeMessage(data)
		require.NoError(t, err)
		require.NotNil(t, out.Call)
		assert.Equal(t, MsgCall, out.Type)
		assert.Equal(t, in.Call.QuestionID, out.Call.QuestionID)
		assert.Equal(t, in.Call.Target, out.Call.Target)
		assert.Equal(t, in.Call.InterfaceID, out.Call.InterfaceID)
		assert.Equal(t, in.Call.MethodID, out.Call.MethodID)
		assert.Equal(t, in.Call.Params.Content, out.Call.Params.Content)
		assert.Equal(t, in.Call.Params.CapTable, out.Call.Params.CapTable)
		assert.Nil(t, out.Return)
	})

	t.Run("ReturnException", func(t *testing.T) {
		in := &Message{
			Type: MsgReturn,
			Return: &ReturnMessage{
				AnswerID: 2,
				Kind:     ReturnException,
				Exception: Exception{
					Type:   ExceptionOverloaded,
					Reason: "too many requests",
				},
			},
		}

		data, err := EncodeMessage(in)
		require.NoError(t, err)

		out, err := DecodeMessage(data)
		require.NoError(t, err)
		require.NotNil(t, out.Return)
		assert.Equal(t, ReturnException, out.Return.Kind)
		assert.Equal(t, ExceptionOverloaded, out.Return.Exception.Type)
		assert.Equal(t, "too many requests", out.Return.Exception.Reason)
	})

	t.Run("RejectsMissingBody", func(t *testing.T) {
		_, err := EncodeMessage(&Message{Type: MsgRelease})
		assert.Error(t, err)
	})

	t.Run("RejectsUnknownType", func(t *testing.T) {
		_, err := EncodeMessage(&Message{Type: 99})
		assert.Error(t, err)

		var buf bytes.Buffer
		_ = binary.Write(&buf, binary.BigEndian, uint32(99))
		_, err = DecodeMessage(buf.Bytes())
		assert.Error(t, err)
	})

	t.Run("RejectsTruncatedBody", func(t *testing.T) {
		data, err := EncodeMessage(&Message{
			Type:    MsgRelease,
			Release: &ReleaseMessage{ID: 1, ReferenceCount: 1},
		})
		require.NoError(t, err)

		_, err = DecodeMessage(data[:len(data)-2])
		assert.Error(t, err)
	})
}

// ============================================================================
// Framer Tests
// ============================================================================

func fragment(last bool, data []byte) []byte {
	header := uint32(len(data))
	if last {
		header |= lastFragmentBit
	}
	out := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint32(out, header)
	return append(out, data...)
}

func TestFramer(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		var buf bytes.Buffer
		f := NewFramer(&buf, &buf, 0)

		require.NoError(t, f.WriteMessage([]byte("hello")))
		require.NoError(t, f.WriteMessage([]byte{}))

		got, err := f.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), got)

		got, err = f.ReadMessage()
		require.NoError(t, err)
		assert.Empty(t, got)

		_, err = f.ReadMessage()
		assert.Equal(t, io.EOF, err)
	})

	t.Run("ReassemblesFragments", func(t *testing.T) {
		var buf bytes.Buffer
		buf.Write(fragment(false, []byte("abc")))
		buf.Write(fragment(false, []byte("def")))
		buf.Write(fragment(true, []byte("g")))

		f := NewFramer(&buf, io.Discard, 0)
		got, err := f.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, []byte("abcdefg"), got)
	})

	t.Run("RejectsOversizedRecord", func(t *testing.T) {
		var buf bytes.Buffer
		buf.Write(fragment(false, []byte("12345")))
		buf.Write(fragment(true, []byte("67890")))

		f := NewFramer(&buf, io.Discard, 8)
		_, err := f.ReadMessage()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")

		assert.Error(t, f.WriteMessage(make([]byte, 9)))
	})

	t.Run("TruncatedRecord", func(t *testing.T) {
		var buf bytes.Buffer
		buf.Write(fragment(false, []byte("abc")))

		f := NewFramer(&buf, io.Discard, 0)
		_, err := f.ReadMessage()
		assert.Equal(t, io.ErrUnexpectedEOF, err)

		buf.Reset()
		frame := fragment(true, []byte("abcdef"))
		buf.Write(frame[:len(frame)-2])
		_, err = f.ReadMessage()
		assert.Equal(t, io.ErrUnexpectedEOF, err)
	})

	t.Run("ConcurrentWritesStayWhole", func(t *testing.T) {
		var buf bytes.Buffer
		f := NewFramer(&buf, &lockedWriter{w: &buf}, 0)

		const writers = 16
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = f.WriteMessage(bytes.Repeat([]byte{byte(i)}, 100+i))
			}(i)
		}
		wg.Wait()

		seen := make(map[byte]bool)
		for i := 0; i < writers; i++ {
			msg, err := f.ReadMessage()
			require.NoError(t, err)
			require.NotEmpty(t, msg)
			assert.Len(t, msg, 100+int(msg[0]))
			assert.Equal(t, bytes.Repeat(msg[:1], len(msg)), msg)
			seen[msg[0]] = true
		}
		assert.Len(t, seen, writers)
	})
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
