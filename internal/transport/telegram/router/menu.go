package router

import (
	"context"
	"strings"

	kit "reportbot/internal/transport"
)

const (
	maxMenuCommands = 100
	maxMenuDescLen  = 256
)

// MenuCommands lists the commands for the client-side menu. Owner-only
// commands are left out since the menu is global.
func (r *Router) MenuCommands() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]kit.BotCommand, 0, len(r.cmds))
	seen := map[string]bool{}
	for _, c := range r.cmds {
		if c.Access == AccessOwnerOnly {
			continue
		}
		name, ok := sanitizeMenuCommand(c.Name)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		desc := strings.TrimSpace(c.Description)
		if desc == "" {
			desc = name
		}
		if len([]rune(desc)) > maxMenuDescLen {
			desc = string([]rune(desc)[:maxMenuDescLen])
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
		if len(out) == maxMenuCommands {
			break
		}
	}
	return out
}

// UpdateMenu pushes MenuCommands when the adapter supports it.
func (r *Router) UpdateMenu(ctx context.Context, a any) error {
	up, ok := a.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	return up.UpdateMenuCommands(ctx, r.MenuCommands())
}

// sanitizeMenuCommand applies the client rules: 1-32 chars of a-z, 0-9
// and underscore.
func sanitizeMenuCommand(name string) (string, bool) {
	name = normalizeName(name)
	var b strings.Builder
	for _, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '_':
			b.WriteRune(ch)
		case ch == '-' || ch == ' ' || ch == '.':
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = out[:32]
	}
	return out, out != ""
}
