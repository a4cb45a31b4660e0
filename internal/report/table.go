package report

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"reportbot/internal/checker"
)

// writeUsersTable renders records into a temp file named after at.
func writeUsersTable(dir string, at time.Time, records []checker.Record) (*Attachment, error) {
	rows := make([][]string, 0, len(records))
	for i, r := range records {
		rows = append(rows, []string{strconv.Itoa(i + 1), dash(r.ID), dash(r.FullName), dash(r.Phone), dash(r.TGUser)})
	}
	preamble := fmt.Sprintf("Users: %s\nGenerated: %s\n\n", formatCount(len(records)), at.Format(headerTimeLayout))
	return writeTableFile(dir, "users_"+at.Format(fileTimeLayout)+".txt", preamble,
		[]string{"№", "ID", "Full name", "Phone", "Telegram"}, rows)
}

// writeTableFile writes preamble and one table into a temp file. The header
// is rendered even when rows is empty.
func writeTableFile(dir, name, preamble string, header []string, rows [][]string) (_ *Attachment, err error) {
	f, err := os.CreateTemp(dir, "reportbot-*.txt")
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()

	if _, err = f.WriteString(preamble); err != nil {
		return nil, err
	}

	table := tablewriter.NewTable(f)
	table.Header(cells(header)...)
	for _, row := range rows {
		if err = table.Append(cells(row)...); err != nil {
			return nil, err
		}
	}
	if err = table.Render(); err != nil {
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &Attachment{
		Name: name,
		Path: f.Name(),
		MIME: "text/plain; charset=utf-8",
		Size: st.Size(),
	}, nil
}

func cells(row []string) []any {
	out := make([]any, len(row))
	for i, c := range row {
		out[i] = c
	}
	return out
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
