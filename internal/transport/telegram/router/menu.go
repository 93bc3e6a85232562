package router

import (
	"strings"

	kit "firefeed/internal/transport"
	"firefeed/pkg/tgui"
)

// sanitizeTelegramCommand converts a name or alias into a Telegram-safe
// command name ([a-z0-9_]{1,32}, starting with a letter).
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(strings.TrimPrefix(s, "/")))
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == ' ' || r == '/':
			if b.Len() > 0 && !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// menuCommands lists registered commands in registration order.
func (r *Router) menuCommands() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(r.order))
	for _, name := range r.order {
		c := r.cmds[name]
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = name
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
	}
	return out
}

func (r *Router) helpText(args []string) string {
	if len(args) > 0 {
		c := r.lookup(sanitizeTelegramCommand(args[0]))
		if c == nil {
			return "❓ <b>Unknown command</b>\nType <code>/help</code> to list commands."
		}
		lines := []string{"📚 <b>/" + tgui.Esc(c.Name).String() + "</b>"}
		if c.Description != "" {
			lines = append(lines, tgui.Esc(c.Description).String())
		}
		if c.Usage != "" {
			lines = append(lines, "", "<b>Usage</b>", tgui.Code(c.Usage).String())
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "", "<b>Shortcut</b> "+tgui.Code("/"+strings.Join(c.Aliases, ", /")).String())
		}
		return strings.Join(lines, "\n")
	}

	lines := []string{"📚 <b>Commands</b>", ""}
	for _, bc := range r.menuCommands() {
		lines = append(lines, "• "+tgui.Code("/"+bc.Command).String()+" - "+tgui.Esc(bc.Description).String())
	}
	lines = append(lines, "", "Type <code>/help &lt;command&gt;</code> for details.")
	return strings.Join(lines, "\n")
}
