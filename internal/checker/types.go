package checker

import (
	"errors"
	"time"
)

// ErrDataSource reports a backend response that could not be used
// (non-2xx status or a payload that is not a JSON array).
var ErrDataSource = errors.New("data source error")

type State string

const (
	StateHealthy     State = "healthy"
	StateDegraded    State = "degraded"
	StateUnreachable State = "unreachable"
)

type Source struct {
	Name string
	URL  string
}

// Result is the outcome of one source check. Latency is zero when the
// source never answered.
type Result struct {
	Name       string
	URL        string
	State      State
	StatusCode int
	Latency    time.Duration
	Error      string
}

func (r Result) LatencyKnown() bool { return r.State != StateUnreachable }

// Record is one row of the backend users listing. FullName holds the lead's
// source site on some backends. CreatedAt is zero when the backend omits it
// or sends something unparseable.
type Record struct {
	ID        string
	FullName  string
	Phone     string
	TGUser    string
	CreatedAt time.Time
}

// Snapshot is a point-in-time view of every source plus the backend record
// count. It is built once per run and never modified afterwards; use the
// accessor methods to get copies of its slices.
type Snapshot struct {
	TakenAt        time.Time
	CountAvailable bool
	RecordCount    int
	CountError     string

	results []Result
	records []Record
}

func NewSnapshot(takenAt time.Time, results []Result, records []Record, countErr error) Snapshot {
	s := Snapshot{
		TakenAt: takenAt,
		results: append([]Result(nil), results...),
	}
	if countErr != nil {
		s.CountError = countErr.Error()
		return s
	}
	s.CountAvailable = true
	s.RecordCount = len(records)
	s.records = append([]Record(nil), records...)
	return s
}

func (s Snapshot) Results() []Result { return append([]Result(nil), s.results...) }
func (s Snapshot) Records() []Record { return append([]Record(nil), s.records...) }

// Healthy counts sources in StateHealthy.
func (s Snapshot) Healthy() int {
	n := 0
	for _, r := range s.results {
		if r.State == StateHealthy {
			n++
		}
	}
	return n
}
