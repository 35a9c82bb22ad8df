package rpc

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// EncodeMessage serializes a message into its wire representation
// (type tag followed by the XDR body). Framing is applied separately.
func EncodeMessage(m *Message) ([]byte, error) {
	var body any
	switch m.Type {
	case MsgBootstrap:
		body = m.Bootstrap
	case MsgCall:
		body = m.Call
	case MsgReturn:
		body = m.Return
	case MsgRelease:
		body = m.Release
	case MsgAbort:
		body = m.Abort
	default:
		return nil, fmt.Errorf("unknown message type %d", m.Type)
	}
	if body == nil {
		return nil, fmt.Errorf("message type %d has no body", m.Type)
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, m.Type); err != nil {
		return nil, fmt.Errorf("marshal message type: %w", err)
	}
	if _, err := xdr.Marshal(&buf, body); err != nil {
		return nil, fmt.Errorf("marshal message body: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeMessage parses a message produced by EncodeMessage.
func DecodeMessage(data []byte) (*Message, error) {
	reader := bytes.NewReader(data)

	var msgType uint32
	if _, err := xdr.Unmarshal(reader, &msgType); err != nil {
		return nil, fmt.Errorf("unmarshal message type: %w", err)
	}

	m := &Message{Type: msgType}

	var body any
	switch msgType {
	case MsgBootstrap:
		m.Bootstrap = &BootstrapMessage{}
		body = m.Bootstrap
	case MsgCall:
		m.Call = &CallMessage{}
		body = m.Call
	case MsgReturn:
		m.Return = &ReturnMessage{}
		body = m.Return
	case MsgRelease:
		m.Release = &ReleaseMessage{}
		body = m.Release
	case MsgAbort:
		m.Abort = &AbortMessage{}
		body = m.Abort
	default:
		return nil, fmt.Errorf("unknown message type %d", msgType)
	}

	if _, err := xdr.Unmarshal(reader, body); err != nil {
		return nil, fmt.Errorf("unmarshal message type %d: %w", msgType, err)
	}

	return m, nil
}

// Marshal encodes a params or results struct into payload content.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes payload content into v.
func Unmarshal(data []byte, v any) error {
	_, err := xdr.Unmarshal(bytes.NewReader(data), v)
	return err
}
