package router

import (
	"strings"

	"reportbot/pkg/tgui"
)

func (r *Router) helpText(args []string) string {
	if len(args) > 0 {
		if c, ok := r.lookup(normalizeName(args[0])); ok {
			return commandHelp(c)
		}
		return "Unknown command: " + tgui.Code(args[0]).String()
	}

	r.mu.RLock()
	cmds := append([]Command(nil), r.cmds...)
	r.mu.RUnlock()

	card := tgui.NewCard("Commands").Section("")
	for _, c := range cmds {
		line := "/" + c.Name
		if c.Description != "" {
			line += " - " + c.Description
		}
		if c.Access == AccessOwnerOnly {
			line += " 🔒"
		}
		card.Line(tgui.Esc(line))
	}
	return card.Section("").Line("Details: " + tgui.Code("/help <command>")).String()
}

func commandHelp(c Command) string {
	card := tgui.NewCard("/" + c.Name)
	if c.Description != "" {
		card.Line(tgui.Esc(c.Description))
	}
	if c.Usage != "" {
		card.Section("").Field("Usage", tgui.Code(c.Usage))
	}
	if len(c.Aliases) > 0 {
		al := make([]string, 0, len(c.Aliases))
		for _, a := range c.Aliases {
			al = append(al, "/"+normalizeName(a))
		}
		card.Field("Aliases", tgui.Esc(strings.Join(al, ", ")))
	}
	if c.Access == AccessOwnerOnly {
		card.Line("Owners only.")
	}
	return card.String()
}
