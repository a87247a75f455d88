package router

import (
	"html"
	"strings"
)

// helpText renders the command list for ParseMode=HTML.
func (r *Router) helpText() string {
	cmds := r.Commands()
	lines := make([]string, 0, len(cmds)+2)
	lines = append(lines, "<b>Commands</b>")
	for _, c := range cmds {
		usage := strings.TrimSpace(c.Usage)
		if usage == "" {
			usage = "/" + c.Name
		}
		line := "<code>" + html.EscapeString(usage) + "</code>"
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + html.EscapeString(d)
		}
		if len(c.Aliases) > 0 {
			line += " <i>(" + html.EscapeString("/"+strings.Join(c.Aliases, ", /")) + ")</i>"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
