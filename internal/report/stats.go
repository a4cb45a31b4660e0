package report

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"reportbot/internal/checker"
	logx "reportbot/pkg/logx"
)

const (
	dayLayout     = "02.01.2006"
	leadLayout    = "02.01.2006 15:04"
	dayFileLayout = "02012006"
	unknownSite   = "Unknown"

	// statsTextDays caps the per-day lines in the message; the files carry all days.
	statsTextDays = 31
)

type SiteCount struct {
	Site  string
	Count int
}

// DayStats counts the leads created on one calendar day. Day is midnight in
// the builder's zone.
type DayStats struct {
	Day   time.Time
	Total int
	Sites []SiteCount
}

// Stats aggregates backend records by creation time. Records without a
// creation time count toward Total and Undated only.
type Stats struct {
	Total       int
	Today       int
	Undated     int
	TodayBySite []SiteCount
	Days        []DayStats
}

// ComputeStats groups records by day in loc. Days are ascending and sites
// within a day are sorted by name.
func ComputeStats(records []checker.Record, now time.Time, loc *time.Location) Stats {
	if loc == nil {
		loc = time.Local
	}
	today := dayStart(now.In(loc))

	type dayAgg struct {
		total int
		sites map[string]int
	}
	days := map[time.Time]*dayAgg{}

	st := Stats{Total: len(records)}
	for _, r := range records {
		if r.CreatedAt.IsZero() {
			st.Undated++
			continue
		}
		d := dayStart(r.CreatedAt.In(loc))
		agg := days[d]
		if agg == nil {
			agg = &dayAgg{sites: map[string]int{}}
			days[d] = agg
		}
		agg.total++
		agg.sites[siteName(r)]++
	}

	for d, agg := range days {
		ds := DayStats{Day: d, Total: agg.total, Sites: sortedSites(agg.sites)}
		st.Days = append(st.Days, ds)
		if d.Equal(today) {
			st.Today = ds.Total
			st.TodayBySite = ds.Sites
		}
	}
	sort.Slice(st.Days, func(i, j int) bool { return st.Days[i].Day.Before(st.Days[j].Day) })
	return st
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func siteName(r checker.Record) string {
	if s := strings.TrimSpace(r.FullName); s != "" {
		return s
	}
	return unknownSite
}

func sortedSites(m map[string]int) []SiteCount {
	out := make([]SiteCount, 0, len(m))
	for site, n := range m {
		out = append(out, SiteCount{Site: site, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	return out
}

// StatsReport is the statistics message plus its table files. Callers must
// defer Cleanup.
type StatsReport struct {
	Text        string
	ParseMode   string
	GeneratedAt time.Time
	Stats       Stats
	Attachments []*Attachment

	cleanupOnce sync.Once
	cleanupErr  error
}

func (r *StatsReport) Cleanup() error {
	if r == nil {
		return nil
	}
	r.cleanupOnce.Do(func() { r.cleanupErr = removeAttachments(r.Attachments...) })
	return r.cleanupErr
}

// BuildStats renders statistics over records: the message text, a list of
// every lead, a per-day per-site breakdown and today's leads.
func (b *Builder) BuildStats(ctx context.Context, records []checker.Record) (_ *StatsReport, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	cfg := b.cfg
	b.mu.RUnlock()

	at := b.now().In(cfg.Location)
	st := ComputeStats(records, at, cfg.Location)
	rep := &StatsReport{
		Text:        renderStats(at, st),
		ParseMode:   ParseModeHTML,
		GeneratedAt: at,
		Stats:       st,
	}
	defer func() {
		if err != nil {
			_ = rep.Cleanup()
		}
	}()

	today := dayStart(at)
	var todays []checker.Record
	for _, r := range records {
		if !r.CreatedAt.IsZero() && dayStart(r.CreatedAt.In(cfg.Location)).Equal(today) {
			todays = append(todays, r)
		}
	}

	writers := []func() (*Attachment, error){
		func() (*Attachment, error) {
			return writeLeadsTable(cfg.TempDir, "leads_"+at.Format(fileTimeLayout)+".txt",
				fmt.Sprintf("Leads: %s\nGenerated: %s\n\n", formatCount(st.Total), at.Format(headerTimeLayout)),
				records, cfg.Location)
		},
		func() (*Attachment, error) { return writeDailyTable(cfg.TempDir, at, st) },
		func() (*Attachment, error) {
			return writeLeadsTable(cfg.TempDir, "daily_leads_"+at.Format(dayFileLayout)+".txt",
				fmt.Sprintf("Leads on %s: %s\n\n", at.Format(dayLayout), formatCount(len(todays))),
				todays, cfg.Location)
		},
	}
	for _, w := range writers {
		att, err := w()
		if err != nil {
			return nil, fmt.Errorf("stats table: %w", err)
		}
		rep.Attachments = append(rep.Attachments, att)
	}
	b.log.Debug("stats ready", logx.Int("records", st.Total), logx.Int("days", len(st.Days)), logx.Int("files", len(rep.Attachments)))
	return rep, nil
}

func writeLeadsTable(dir, name, preamble string, records []checker.Record, loc *time.Location) (*Attachment, error) {
	rows := make([][]string, 0, len(records))
	for i, r := range records {
		created := "-"
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.In(loc).Format(leadLayout)
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), siteName(r), dash(r.Phone), dash(r.TGUser), created})
	}
	return writeTableFile(dir, name, preamble, []string{"№", "Site", "Phone", "Telegram", "Created"}, rows)
}

func writeDailyTable(dir string, at time.Time, st Stats) (*Attachment, error) {
	var rows [][]string
	for _, d := range st.Days {
		day := d.Day.Format(dayLayout)
		for _, s := range d.Sites {
			rows = append(rows, []string{day, s.Site, strconv.Itoa(s.Count)})
		}
		rows = append(rows, []string{day, "Total", strconv.Itoa(d.Total)})
	}
	preamble := fmt.Sprintf("Days: %d\nLeads: %s\nWithout date: %d\nGenerated: %s\n\n",
		len(st.Days), formatCount(st.Total), st.Undated, at.Format(headerTimeLayout))
	return writeTableFile(dir, "daily_stats_"+at.Format(fileTimeLayout)+".txt", preamble,
		[]string{"Date", "Site", "Leads"}, rows)
}

func renderStats(at time.Time, st Stats) string {
	var sb strings.Builder
	sb.WriteString("<b>📈 Statistics</b>\n")
	sb.WriteString("🕐 " + at.Format(headerTimeLayout) + "\n\n")
	sb.WriteString("Total leads: <b>" + formatCount(st.Total) + "</b>\n")
	sb.WriteString("Today (" + at.Format(dayLayout) + "): <b>" + formatCount(st.Today) + "</b>\n")
	if st.Undated > 0 {
		sb.WriteString("Without date: " + formatCount(st.Undated) + "\n")
	}

	if len(st.TodayBySite) > 0 {
		sb.WriteString("\n<b>🌐 Today by site</b>\n")
		for _, s := range st.TodayBySite {
			sb.WriteString("   " + html.EscapeString(s.Site) + " - " + formatCount(s.Count) + "\n")
		}
	}

	today := dayStart(at)
	var earlier []DayStats
	for _, d := range st.Days {
		if !d.Day.Equal(today) {
			earlier = append(earlier, d)
		}
	}
	if len(earlier) > 0 {
		sb.WriteString("\n<b>📆 Other days</b>\n")
		shown := earlier[max(0, len(earlier)-statsTextDays):]
		if hidden := len(earlier) - len(shown); hidden > 0 {
			sb.WriteString(fmt.Sprintf("   ... %d earlier days in the file\n", hidden))
		}
		for _, d := range shown {
			sb.WriteString("   " + d.Day.Format(dayLayout) + ": " + formatCount(d.Total) + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
