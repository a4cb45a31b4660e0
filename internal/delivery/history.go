package delivery

import "time"

const (
	defaultHistoryMax = 50
	defaultHistoryTTL = 24 * time.Hour
)

func (e *Engine) record(s Summary) {
	e.mu.Lock()
	maxN, ttl := e.cfg.HistoryMax, e.cfg.HistoryTTL
	e.mu.Unlock()

	e.histMu.Lock()
	e.history = append(e.history, s)
	e.history = pruneHistory(e.history, s.FinishedAt, maxN, ttl)
	e.histMu.Unlock()
}

// pruneHistory drops summaries older than ttl, then the oldest ones until at
// most maxN remain. hist is ordered oldest first.
func pruneHistory(hist []Summary, now time.Time, maxN int, ttl time.Duration) []Summary {
	if maxN <= 0 {
		maxN = defaultHistoryMax
	}
	if ttl <= 0 {
		ttl = defaultHistoryTTL
	}
	start := 0
	for start < len(hist) && now.Sub(hist[start].FinishedAt) > ttl {
		start++
	}
	if n := len(hist) - start; n > maxN {
		start += n - maxN
	}
	if start == 0 {
		return hist
	}
	return append([]Summary(nil), hist[start:]...)
}

// History returns recent broadcast summaries, newest first.
func (e *Engine) History() []Summary {
	e.histMu.RLock()
	defer e.histMu.RUnlock()
	out := make([]Summary, len(e.history))
	for i, s := range e.history {
		out[len(out)-1-i] = s
	}
	return out
}
