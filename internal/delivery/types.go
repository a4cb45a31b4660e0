package delivery

import (
	"context"
	"fmt"
	"time"

	kit "reportbot/internal/transport"
)

type Outcome int

const (
	Delivered Outcome = iota
	TransientFailure
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case TransientFailure:
		return "transient"
	case PermanentFailure:
		return "permanent"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Classify maps a send error to an outcome. Only an explicit
// access-revoked signal is permanent.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Delivered
	case kit.IsForbidden(err):
		return PermanentFailure
	default:
		return TransientFailure
	}
}

// Error is returned by DeliverOne when a target could not be served.
type Error struct {
	Target  string
	Outcome Outcome
	Pruned  bool
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("deliver to %s (%s): %v", e.Target, e.Outcome, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Sender is the outbound capability the engine needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	SendDocument(ctx context.Context, to kit.ChatTarget, doc kit.Document, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Remover unregisters subscribers that revoked access.
type Remover interface {
	Remove(ctx context.Context, id string) (bool, error)
}

type Config struct {
	RatePerSec  int
	SendTimeout time.Duration
	HistoryMax  int
	HistoryTTL  time.Duration
}

type TargetResult struct {
	Target  string
	Outcome Outcome
	Pruned  bool
	Error   string
}

// Summary describes one broadcast.
type Summary struct {
	ID         string
	Total      int
	Delivered  int
	Transient  int
	Permanent  int
	Pruned     []string
	Results    []TargetResult
	StartedAt  time.Time
	FinishedAt time.Time
}

func (s Summary) Took() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }
