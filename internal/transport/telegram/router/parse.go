package router

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var ridSeq atomic.Uint64

// newReqID returns a short id: base36 time, sequence and two random chars.
func newReqID() string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	n := ridSeq.Add(1)
	suffix := []byte{alpha[rand.IntN(len(alpha))], alpha[rand.IntN(len(alpha))]}
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36) + string(suffix)
}

// parseCommand splits "/name@bot arg1 'arg 2'" into a lowercase name and
// args. ok is false for text that is not a command.
func parseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return "", nil, false
	}
	name = strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	if name == "" {
		return "", nil, false
	}
	return name, parts[1:], true
}

// tokenizeCommandLine splits on whitespace, honouring single and double
// quotes and backslash escapes.
func tokenizeCommandLine(s string) []string {
	var (
		out  []string
		buf  strings.Builder
		q    rune
		esc  bool
		have bool
	)
	flush := func() {
		if have {
			out = append(out, buf.String())
			buf.Reset()
			have = false
		}
	}
	for _, ch := range strings.TrimSpace(s) {
		switch {
		case esc:
			buf.WriteRune(ch)
			esc, have = false, true
		case ch == '\\':
			esc = true
		case q != 0:
			if ch == q {
				q = 0
				continue
			}
			buf.WriteRune(ch)
		case ch == '"' || ch == '\'':
			q, have = ch, true
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteRune(ch)
			have = true
		}
	}
	flush()
	return out
}
