package adapter

import (
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "reportbot/internal/transport"
)

// mapError turns a telebot failure into a *kit.SendError carrying the Bot
// API code. Errors telebot does not type (unknown descriptions come back as
// "telegram: <desc> (<code>)") are recognised by their text.
func mapError(op, target string, err error) error {
	if err == nil {
		return nil
	}
	se := &kit.SendError{Op: op, Target: target, Err: err}

	var flood tele.FloodError
	var terr *tele.Error
	switch {
	case errors.As(err, &flood):
		se.Code = 429
		se.RetryAfter = time.Duration(flood.RetryAfter) * time.Second
		se.Description = "too many requests"
	case errors.As(err, &terr):
		se.Code = terr.Code
		se.Description = terr.Description
	default:
		msg := err.Error()
		switch {
		case strings.Contains(msg, "(403)") || strings.Contains(msg, "Forbidden:"):
			se.Code = 403
		case strings.Contains(msg, "(429)"):
			se.Code = 429
		case strings.Contains(msg, "(400)"):
			se.Code = 400
		}
		se.Description = strings.TrimPrefix(msg, "telegram: ")
	}
	return se
}
