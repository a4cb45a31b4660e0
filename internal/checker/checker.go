// Package checker probes the configured HTTP sources and the backend users
// endpoint and assembles an immutable Snapshot for the report.
package checker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "reportbot/pkg/logx"
)

const (
	defaultTimeout        = 10 * time.Second
	defaultBackendTimeout = 30 * time.Second
	defaultWorkers        = 2
	maxBackendBody        = 32 << 20
)

type Config struct {
	Sources        []Source
	Timeout        time.Duration
	Workers        int
	BackendURL     string
	UsersPath      string
	BackendTimeout time.Duration
	UserAgent      string
}

func (c Config) normalized() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.BackendTimeout <= 0 {
		c.BackendTimeout = defaultBackendTimeout
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if strings.TrimSpace(c.UsersPath) == "" {
		c.UsersPath = "/users"
	}
	if c.UserAgent == "" {
		c.UserAgent = "reportbot/1.0"
	}
	c.Sources = append([]Source(nil), c.Sources...)
	return c
}

type Checker struct {
	client *http.Client
	log    logx.Logger
	now    func() time.Time

	mu  sync.RWMutex
	cfg Config
}

// New builds a checker. A nil client means a dedicated client without a
// global timeout; every request carries its own deadline.
func New(cfg Config, client *http.Client, log logx.Logger) *Checker {
	if client == nil {
		client = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Checker{
		client: client,
		log:    log.With(logx.String("comp", "checker")),
		now:    time.Now,
		cfg:    cfg.normalized(),
	}
}

// Apply swaps the source list and timeouts; in-flight checks keep the old values.
func (c *Checker) Apply(cfg Config) {
	c.mu.Lock()
	c.cfg = cfg.normalized()
	c.mu.Unlock()
}

func (c *Checker) config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Snapshot checks every configured source and fetches the backend records.
// A backend failure does not fail the snapshot; it leaves the count
// unavailable. Only a cancelled ctx is returned as an error.
func (c *Checker) Snapshot(ctx context.Context) (Snapshot, error) {
	cfg := c.config()
	started := c.now()

	var (
		wg      sync.WaitGroup
		records []Record
		recErr  error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		records, recErr = c.fetchRecords(ctx, cfg)
	}()
	results := c.checkSources(ctx, cfg, cfg.Sources)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	if recErr != nil {
		c.log.Warn("record count unavailable", logx.Err(recErr))
	}

	snap := NewSnapshot(started, results, records, recErr)
	c.log.Debug("snapshot taken",
		logx.Int("sources", len(results)),
		logx.Int("healthy", snap.Healthy()),
		logx.Bool("count_available", snap.CountAvailable),
		logx.Duration("took", time.Since(started)),
	)
	return snap, nil
}

// CheckSources probes sources with the configured timeout and worker bound.
// Results are returned in input order.
func (c *Checker) CheckSources(ctx context.Context, sources []Source) []Result {
	return c.checkSources(ctx, c.config(), sources)
}

func (c *Checker) checkSources(ctx context.Context, cfg Config, sources []Source) []Result {
	out := make([]Result, len(sources))
	if len(sources) == 0 {
		return out
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(cfg.Workers, len(sources)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = c.checkOne(ctx, cfg, sources[i])
			}
		}()
	}
	for i := range sources {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

func (c *Checker) checkOne(ctx context.Context, cfg Config, src Source) Result {
	res := Result{Name: src.Name, URL: src.URL}

	rctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, src.URL, nil)
	if err != nil {
		res.State = StateUnreachable
		res.Error = err.Error()
		return res
	}
	req.Header.Set("User-Agent", cfg.UserAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		res.State = StateUnreachable
		res.Error = describeTransportErr(err, cfg.Timeout)
		c.log.Debug("source unreachable", logx.String("source", src.Name), logx.Err(err))
		return res
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()

	res.Latency = time.Since(start)
	res.StatusCode = resp.StatusCode
	if resp.StatusCode == http.StatusOK {
		res.State = StateHealthy
	} else {
		res.State = StateDegraded
		res.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return res
}

func describeTransportErr(err error, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("timeout after %s", timeout)
	}
	var uerr interface{ Timeout() bool }
	if errors.As(err, &uerr) && uerr.Timeout() {
		return fmt.Sprintf("timeout after %s", timeout)
	}
	return err.Error()
}

// FetchRecords lists the backend users. Every failure, transport included,
// wraps ErrDataSource.
func (c *Checker) FetchRecords(ctx context.Context) ([]Record, error) {
	return c.fetchRecords(ctx, c.config())
}

// FetchRecordCount is FetchRecords reduced to its length.
func (c *Checker) FetchRecordCount(ctx context.Context) (int, error) {
	recs, err := c.FetchRecords(ctx)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (c *Checker) fetchRecords(ctx context.Context, cfg Config) ([]Record, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BackendURL), "/")
	if base == "" {
		return nil, fmt.Errorf("%w: backend url not configured", ErrDataSource)
	}
	url := base + "/" + strings.TrimLeft(cfg.UsersPath, "/")

	rctx, cancel := context.WithTimeout(ctx, cfg.BackendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataSource, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Expires", "0")
	req.Header.Set("User-Agent", cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDataSource, describeTransportErr(err, cfg.BackendTimeout))
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: backend returned HTTP %d", ErrDataSource, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBackendBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrDataSource, err)
	}
	return decodeRecords(body)
}

type rawRecord struct {
	ID        json.RawMessage `json:"id"`
	FullName  string          `json:"full_name"`
	Phone     string          `json:"phone_number"`
	TGUser    string          `json:"tg_user"`
	CreatedAt json.RawMessage `json:"createdAt"`
}

// decodeRecords requires a top-level JSON array. Elements that are not
// objects still count, with empty fields.
func decodeRecords(body []byte) ([]Record, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		return nil, fmt.Errorf("%w: payload is not a JSON array", ErrDataSource)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataSource, err)
	}

	out := make([]Record, 0, len(items))
	for _, it := range items {
		var rr rawRecord
		if err := json.Unmarshal(it, &rr); err != nil {
			out = append(out, Record{})
			continue
		}
		out = append(out, Record{
			ID:        rawID(rr.ID),
			FullName:  rr.FullName,
			Phone:     rr.Phone,
			TGUser:    rr.TGUser,
			CreatedAt: rawTime(rr.CreatedAt),
		})
	}
	return out, nil
}

func rawID(b json.RawMessage) string {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}

var createdAtLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.DateOnly}

// rawTime accepts an ISO-8601 string or a number of Unix milliseconds.
// Layouts without a zone are read as UTC.
func rawTime(b json.RawMessage) time.Time {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return time.Time{}
	}
	if s[0] != '"' {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil || ms <= 0 {
			return time.Time{}
		}
		return time.UnixMilli(ms).UTC()
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return time.Time{}
	}
	str = strings.TrimSpace(str)
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, str); err == nil {
			return t
		}
	}
	return time.Time{}
}
