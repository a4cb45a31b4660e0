// Package report renders a checker.Snapshot into the message subscribers
// receive: an HTML text and, when the backend listing is available, a plain
// text users table attached as a file (header only when it is empty).
// BuildStats renders lead statistics by day and site from the same records.
package report

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"reportbot/internal/checker"
	logx "reportbot/pkg/logx"
)

const (
	ParseModeHTML = "HTML"

	headerTimeLayout = "15:04:05 02.01.2006"
	fileTimeLayout   = "02012006_150405"
)

type Config struct {
	Title      string
	Location   *time.Location
	Attachment bool
	TempDir    string
}

// Attachment is a materialised file. Path is owned by the Report and
// removed by Cleanup.
type Attachment struct {
	Name string
	Path string
	MIME string
	Size int64
}

type Report struct {
	Text        string
	ParseMode   string
	GeneratedAt time.Time
	Caption     string
	Attachment  *Attachment

	cleanupOnce sync.Once
	cleanupErr  error
}

// Cleanup removes the attachment file. Safe to call more than once and on
// a nil report.
func (r *Report) Cleanup() error {
	if r == nil {
		return nil
	}
	r.cleanupOnce.Do(func() { r.cleanupErr = removeAttachments(r.Attachment) })
	return r.cleanupErr
}

func removeAttachments(atts ...*Attachment) error {
	var errs []error
	for _, a := range atts {
		if a == nil || a.Path == "" {
			continue
		}
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Builder struct {
	log logx.Logger
	now func() time.Time

	mu  sync.RWMutex
	cfg Config
}

func NewBuilder(cfg Config, log logx.Logger) *Builder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Builder{cfg: normalize(cfg), log: log.With(logx.String("comp", "report")), now: time.Now}
}

func (b *Builder) Apply(cfg Config) {
	b.mu.Lock()
	b.cfg = normalize(cfg)
	b.mu.Unlock()
}

func normalize(cfg Config) Config {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if strings.TrimSpace(cfg.Title) == "" {
		cfg.Title = "Status report"
	}
	return cfg
}

// Build renders snap. The returned report may own a temp file; callers must
// defer Cleanup.
func (b *Builder) Build(ctx context.Context, snap checker.Snapshot) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	cfg := b.cfg
	b.mu.RUnlock()

	at := b.now().In(cfg.Location)
	rep := &Report{
		Text:        renderText(cfg, at, snap),
		ParseMode:   ParseModeHTML,
		GeneratedAt: at,
	}

	if cfg.Attachment && snap.CountAvailable {
		att, err := writeUsersTable(cfg.TempDir, at, snap.Records())
		if err != nil {
			return nil, fmt.Errorf("users table: %w", err)
		}
		rep.Attachment = att
		rep.Caption = fmt.Sprintf("👥 %s", formatCount(snap.RecordCount))
		b.log.Debug("attachment ready", logx.String("name", att.Name), logx.String("size", humanize.Bytes(uint64(att.Size))))
	}
	return rep, nil
}

// Casers and printers carry state; build them per call.
func formatCount(n int) string { return message.NewPrinter(language.English).Sprintf("%d", n) }

func renderText(cfg Config, at time.Time, snap checker.Snapshot) string {
	titler := cases.Title(language.English)
	var sb strings.Builder
	sb.WriteString("<b>📊 " + html.EscapeString(cfg.Title) + "</b>\n")
	sb.WriteString("🕐 " + at.Format(headerTimeLayout) + "\n")

	for _, r := range snap.Results() {
		sb.WriteString("\n" + stateIcon(r.State) + " <b>" + html.EscapeString(r.Name) + "</b>\n")
		sb.WriteString("   Status: " + titler.String(string(r.State)))
		if r.StatusCode != 0 {
			sb.WriteString(fmt.Sprintf(" (%d)", r.StatusCode))
		}
		sb.WriteString("\n   Latency: " + formatLatency(r) + "\n")
		sb.WriteString("   URL: " + html.EscapeString(r.URL) + "\n")
		if r.Error != "" && r.State != checker.StateHealthy {
			sb.WriteString("   Error: <code>" + html.EscapeString(r.Error) + "</code>\n")
		}
	}

	sb.WriteString("\n👥 Records: ")
	if snap.CountAvailable {
		sb.WriteString("<b>" + formatCount(snap.RecordCount) + "</b>")
	} else {
		sb.WriteString("n/a")
	}
	return sb.String()
}

func formatLatency(r checker.Result) string {
	if !r.LatencyKnown() {
		return "n/a"
	}
	return fmt.Sprintf("%d ms", r.Latency.Milliseconds())
}

func stateIcon(s checker.State) string {
	switch s {
	case checker.StateHealthy:
		return "✅"
	case checker.StateDegraded:
		return "⚠️"
	default:
		return "❌"
	}
}
