// Package websession defines the WebSession interface: HTTP-like verbs
// mapped onto capability calls, and the Response variants they return.
package websession

import (
	"fmt"
	"net/http"
)

// InterfaceID identifies the WebSession interface. It is also the session
// type a UiView must be asked for to mint a WebSession.
const InterfaceID uint64 = 0xa50711a14d35a8ce

// Method ordinals.
const (
	MethodGet    uint16 = 0
	MethodPut    uint16 = 1
	MethodDelete uint16 = 2
)

// Params are the session parameters sent with newSession.
type Params struct {
	BasePath            string
	UserAgent           string
	AcceptableLanguages []string
}

// PutContent is the body of a PUT.
type PutContent struct {
	MimeType string
	Content  []byte
}

// SuccessCode is the status of a Content response.
type SuccessCode uint32

const (
	OK SuccessCode = iota
	Created
	Accepted
)

func (c SuccessCode) String() string {
	switch c {
	case OK:
		return "ok"
	case Created:
		return "created"
	case Accepted:
		return "accepted"
	default:
		return fmt.Sprintf("success(%d)", uint32(c))
	}
}

// HTTPStatus returns the HTTP status code a gateway would use.
func (c SuccessCode) HTTPStatus() int {
	switch c {
	case Created:
		return http.StatusCreated
	case Accepted:
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}

// ClientErrorCode is the status of a ClientError response.
type ClientErrorCode uint32

const (
	BadRequest ClientErrorCode = iota
	Forbidden
	NotFound
	MethodNotAllowed
	NotAcceptable
	Conflict
	Gone
	RequestEntityTooLarge
	RequestURITooLong
	UnsupportedMediaType
	ImATeapot
	UnprocessableEntity
)

var clientErrorNames = [...]string{
	BadRequest:            "badRequest",
	Forbidden:             "forbidden",
	NotFound:              "notFound",
	MethodNotAllowed:      "methodNotAllowed",
	NotAcceptable:         "notAcceptable",
	Conflict:              "conflict",
	Gone:                  "gone",
	RequestEntityTooLarge: "requestEntityTooLarge",
	RequestURITooLong:     "requestUriTooLong",
	UnsupportedMediaType:  "unsupportedMediaType",
	ImATeapot:             "imATeapot",
	UnprocessableEntity:   "unprocessableEntity",
}

var clientErrorStatus = [...]int{
	BadRequest:            http.StatusBadRequest,
	Forbidden:             http.StatusForbidden,
	NotFound:              http.StatusNotFound,
	MethodNotAllowed:      http.StatusMethodNotAllowed,
	NotAcceptable:         http.StatusNotAcceptable,
	Conflict:              http.StatusConflict,
	Gone:                  http.StatusGone,
	RequestEntityTooLarge: http.StatusRequestEntityTooLarge,
	RequestURITooLong:     http.StatusRequestURITooLong,
	UnsupportedMediaType:  http.StatusUnsupportedMediaType,
	ImATeapot:             http.StatusTeapot,
	UnprocessableEntity:   http.StatusUnprocessableEntity,
}

func (c ClientErrorCode) String() string {
	if int(c) < len(clientErrorNames) {
		return clientErrorNames[c]
	}
	return fmt.Sprintf("clientError(%d)", uint32(c))
}

// HTTPStatus returns the HTTP status code a gateway would use. Unknown codes
// map to 400.
func (c ClientErrorCode) HTTPStatus() int {
	if int(c) < len(clientErrorStatus) {
		return clientErrorStatus[c]
	}
	return http.StatusBadRequest
}
