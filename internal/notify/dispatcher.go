// Package notify delivers appointment notifications. Delivery itself is an
// external concern; this package classifies failures so callers can decide
// between retrying and giving up.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// Channel is the delivery medium of a notification.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// Message is a single rendered notification.
type Message struct {
	Channel   Channel           `json:"channel"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject,omitempty"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Dispatcher sends a message through its channel.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

const (
	CodeDispatchFailure          = "DISPATCH_FAILURE"
	CodeDispatchPermanentFailure = "DISPATCH_PERMANENT_FAILURE"
)

// DispatchError reports a failed send and whether it is worth retrying.
type DispatchError struct {
	Retryable bool
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code(), e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

func (e *DispatchError) Code() string {
	if e.Retryable {
		return CodeDispatchFailure
	}
	return CodeDispatchPermanentFailure
}

// Retryable marks err as a transient failure.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &DispatchError{Retryable: true, Err: err}
}

// Permanent marks err as a failure that will not succeed on retry.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &DispatchError{Retryable: false, Err: err}
}

// IsPermanent reports whether err was classified as permanent. Errors that
// carry no classification are treated as retryable.
func IsPermanent(err error) bool {
	var de *DispatchError
	if errors.As(err, &de) {
		return !de.Retryable
	}
	return false
}

// ErrorCode returns the dispatch taxonomy code for err.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if IsPermanent(err) {
		return CodeDispatchPermanentFailure
	}
	return CodeDispatchFailure
}

// Validate rejects messages no transport can deliver.
func (m Message) Validate() error {
	if !m.Channel.Valid() {
		return Permanent(fmt.Errorf("unsupported channel %q", m.Channel))
	}
	if m.Recipient == "" {
		return Permanent(errors.New("recipient is required"))
	}
	return nil
}
