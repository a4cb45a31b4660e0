package transport

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrForbidden marks a destination that revoked the bot's access
// (blocked, kicked, channel deleted). Deliveries failing with it are permanent.
var ErrForbidden = errors.New("destination forbidden")

// SendError is returned by adapters when the platform rejected a call.
type SendError struct {
	Op          string
	Target      string
	Code        int
	Description string
	RetryAfter  time.Duration
	Err         error
}

func (e *SendError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Op
	if e.Target != "" {
		msg += " to " + e.Target
	}
	if e.Code != 0 {
		msg += " (code " + strconv.Itoa(e.Code) + ")"
	}
	if e.Description != "" {
		msg += ": " + e.Description
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SendError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrForbidden) match on the platform code.
func (e *SendError) Is(target error) bool {
	return target == ErrForbidden && e.Code == 403
}

// IsForbidden reports whether err carries an access-revoked signal.
func IsForbidden(err error) bool {
	return err != nil && errors.Is(err, ErrForbidden)
}

// Forbidden wraps err so IsForbidden reports true.
func Forbidden(target string, err error) error {
	return fmt.Errorf("%s: %w: %w", target, ErrForbidden, err)
}
