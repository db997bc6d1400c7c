// Package channel carries requests from clients to the document and
// replies back.
//
// The wire format is one line per message. A request line is
//
//	<channel_id> <expression>
//
// where the expression is a request call such as
// `set_properties { entity: root, properties: { x: 5 } }`. Replies and
// stream messages are
//
//	<channel_id> ok <value>
//	<channel_id> err <error>
//
// A client picks the channel id; replies to a request use the request's
// channel, stream messages use the stream's.
package channel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/pondoc/internal/eval"
	"github.com/roach88/pondoc/internal/pon"
)

// ClientID identifies a connection.
type ClientID string

// ChannelID identifies a request or a stream within a client.
type ChannelID string

// ErrorType separates client mistakes from server faults.
type ErrorType string

const (
	// BadRequest means the client sent something that cannot be applied.
	BadRequest ErrorType = "bad_request"

	// InternalError means the server failed to handle a valid request.
	InternalError ErrorType = "internal_error"
)

// RequestError is the error half of a reply.
type RequestError struct {
	Type    ErrorType
	Message string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// IsBadRequest reports whether err is a bad_request RequestError.
func IsBadRequest(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Type == BadRequest
}

// Incoming is one decoded request line.
type Incoming struct {
	Client  ClientID
	Channel ChannelID
	Request Request
}

// OK replies to the request with v. A nil v replies with ().
func (in Incoming) OK(v pon.Value) Outgoing {
	return Outgoing{Client: in.Client, Channel: in.Channel, Value: v}
}

// BadRequest replies with a bad_request error.
func (in Incoming) BadRequest(format string, args ...any) Outgoing {
	return in.fail(BadRequest, fmt.Sprintf(format, args...))
}

// InternalError replies with an internal_error.
func (in Incoming) InternalError(format string, args ...any) Outgoing {
	return in.fail(InternalError, fmt.Sprintf(format, args...))
}

func (in Incoming) fail(t ErrorType, msg string) Outgoing {
	return Outgoing{Client: in.Client, Channel: in.Channel, Err: &RequestError{Type: t, Message: msg}}
}

// Outgoing is a reply or stream message addressed to one client.
type Outgoing struct {
	Client  ClientID
	Channel ChannelID
	Value   pon.Value
	Err     *RequestError
}

// Line renders the message in wire format, without a newline.
func (o Outgoing) Line() string {
	if o.Err != nil {
		return fmt.Sprintf("%s err %s", o.Channel, o.Err.Error())
	}
	v := o.Value
	if v == nil {
		v = pon.Nil{}
	}
	return fmt.Sprintf("%s ok %s", o.Channel, pon.Stringify(v))
}

// ============================================================================
// Line decoding
// ============================================================================

// LineError is a request line that could not be decoded. Channel is set
// when the line got far enough to name one.
type LineError struct {
	Channel ChannelID
	Err     error
}

// Error implements the error interface.
func (e *LineError) Error() string {
	return fmt.Sprintf("bad request line: %v", e.Err)
}

// Unwrap returns the nested cause.
func (e *LineError) Unwrap() error {
	return e.Err
}

// ParseLine splits a request line into its channel id and expression.
func ParseLine(line string) (ChannelID, pon.Value, error) {
	line = strings.TrimSpace(line)
	ch, text, ok := strings.Cut(line, " ")
	if !ok || ch == "" {
		return "", nil, &LineError{Err: errors.New(`expected "<channel_id> <expression>"`)}
	}
	expr, err := pon.Parse(text)
	if err != nil {
		return ChannelID(ch), nil, &LineError{Channel: ChannelID(ch), Err: err}
	}
	return ChannelID(ch), expr, nil
}

// Decode evaluates a request expression. The result must be a request
// native; anything else is rejected.
func Decode(registry *eval.Registry, expr pon.Value) (Request, error) {
	v, err := registry.NewContext(nil).Translate(expr)
	if err != nil {
		return nil, err
	}
	req, ok := pon.NativeAs[Request](v)
	if !ok {
		return nil, fmt.Errorf("expected a request, got %s", pon.TypeName(v))
	}
	return req, nil
}

// DecodeLine is ParseLine followed by Decode.
func DecodeLine(registry *eval.Registry, client ClientID, line string) (Incoming, error) {
	ch, expr, err := ParseLine(line)
	if err != nil {
		return Incoming{Client: client, Channel: ch}, err
	}
	req, err := Decode(registry, expr)
	if err != nil {
		return Incoming{Client: client, Channel: ch}, &LineError{Channel: ch, Err: err}
	}
	return Incoming{Client: client, Channel: ch, Request: req}, nil
}
