package websession

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Response is the result of a WebSession call. It is exactly one of
// *Content, *NoContent, *ClientError or *Redirect.
type Response interface {
	isResponse()
}

// Content is a successful response with a body.
type Content struct {
	StatusCode SuccessCode
	MimeType   string
	Body       []byte
}

// NoContent is a successful response without a body.
type NoContent struct{}

// ClientError reports a caller-side condition such as a missing file or a
// forbidden write. It is a successful call, not an RPC failure.
type ClientError struct {
	StatusCode      ClientErrorCode
	DescriptionHTML string
}

// Redirect asks the caller to fetch Location instead.
type Redirect struct {
	IsPermanent bool
	SwitchToGet bool
	Location    string
}

func (*Content) isResponse()     {}
func (*NoContent) isResponse()   {}
func (*ClientError) isResponse() {}
func (*Redirect) isResponse()    {}

// Response discriminants on the wire.
const (
	responseContent uint32 = iota
	responseNoContent
	responseClientError
	responseRedirect
)

// EncodeResponse writes r as an XDR discriminated union.
func EncodeResponse(r Response) ([]byte, error) {
	var (
		tag uint32
		arm any
	)

	switch v := r.(type) {
	case *Content:
		tag, arm = responseContent, v
	case *NoContent:
		tag = responseNoContent
	case *ClientError:
		tag, arm = responseClientError, v
	case *Redirect:
		tag, arm = responseRedirect, v
	default:
		return nil, fmt.Errorf("unknown response type %T", r)
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, tag); err != nil {
		return nil, fmt.Errorf("marshal response tag: %w", err)
	}
	if arm != nil {
		if _, err := xdr.Marshal(&buf, arm); err != nil {
			return nil, fmt.Errorf("marshal response: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeResponse parses a response produced by EncodeResponse.
func DecodeResponse(data []byte) (Response, error) {
	reader := bytes.NewReader(data)

	var tag uint32
	if _, err := xdr.Unmarshal(reader, &tag); err != nil {
		return nil, fmt.Errorf("unmarshal response tag: %w", err)
	}

	var r Response
	switch tag {
	case responseContent:
		r = &Content{}
	case responseNoContent:
		return &NoContent{}, nil
	case responseClientError:
		r = &ClientError{}
	case responseRedirect:
		r = &Redirect{}
	default:
		return nil, fmt.Errorf("unknown response discriminant %d", tag)
	}

	if _, err := xdr.Unmarshal(reader, r); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return r, nil
}
