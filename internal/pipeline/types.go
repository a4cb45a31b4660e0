package pipeline

import (
	"context"
	"time"

	"reportbot/internal/checker"
	"reportbot/internal/delivery"
	"reportbot/internal/report"
)

type Checker interface {
	Snapshot(ctx context.Context) (checker.Snapshot, error)
}

type Builder interface {
	Build(ctx context.Context, snap checker.Snapshot) (*report.Report, error)
}

type Deliverer interface {
	Broadcast(ctx context.Context, rep *report.Report, targets []string) delivery.Summary
	DeliverOne(ctx context.Context, rep *report.Report, target string) error
}

type Registry interface {
	Add(ctx context.Context, id string) (bool, error)
	Remove(ctx context.Context, id string) (bool, error)
	Snapshot() []string
	Len() int
}

type Deps struct {
	Registry Registry
	Checker  Checker
	Builder  Builder
	Delivery Deliverer
}

type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerOnDemand  Trigger = "on_demand"
)

// Run records one pass of the pipeline. RecordCount is -1 when the backend
// could not be read.
type Run struct {
	ID          string
	Trigger     Trigger
	Target      string
	Subscribers int
	Skipped     bool

	Sources     int
	Healthy     int
	RecordCount int

	Delivered int
	Transient int
	Pruned    []string

	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r Run) Took() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

func (r Run) Failed() bool { return r.Error != "" }
