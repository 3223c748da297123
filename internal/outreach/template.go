// Package outreach sends email sequences to CRM leads.
//
// A sequence step's subject and body are plain-text templates with
// {{variable}} placeholders. Render fills them per lead; the Dispatcher
// decides which step is due for which lead and hands the rendered email to
// a Mailer.
package outreach

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/sakif/creatorhub/internal/model"
)

// placeholder matches {{name}}, tolerating inner whitespace: {{ name }}.
var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z][A-Za-z0-9_]*)\s*\}\}`)

// Variables lists the placeholders LeadVariables provides, in the order the
// sequence editor shows them.
var Variables = []string{
	"first_name",
	"name",
	"username",
	"email",
	"platform",
	"followers",
	"avg_viewers",
	"sender_name",
	"sender_first_name",
	"sender_email",
}

// Render replaces every {{variable}} whose name is a key of vars. Names
// are matched case-insensitively. Placeholders with no entry in vars are
// left exactly as written so a typo is visible in the preview instead of
// silently vanishing.
func Render(tmpl string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := strings.ToLower(placeholder.FindStringSubmatch(m)[1])
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// MissingVariables returns the placeholders in tmpl that vars can't fill:
// unknown names and known names with an empty value. Each name is
// reported once, lowercased, in order of first appearance.
func MissingVariables(tmpl string, vars map[string]string) []string {
	var (
		missing []string
		seen    = make(map[string]bool)
	)
	for _, m := range placeholder.FindAllStringSubmatch(tmpl, -1) {
		name := strings.ToLower(m[1])
		if seen[name] {
			continue
		}
		seen[name] = true
		if vars[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// LeadVariables builds the placeholder values for sending to lead on
// behalf of sender. sender may be nil (previews before login data loads).
func LeadVariables(lead *model.CrmLead, sender *model.User) map[string]string {
	name := strings.TrimSpace(lead.DisplayName)
	if name == "" {
		name = lead.Username
	}

	vars := map[string]string{
		"first_name":  firstWord(name),
		"name":        name,
		"username":    lead.Username,
		"email":       lead.Email,
		"platform":    platformLabel(lead.Platform),
		"followers":   formatCount(lead.Followers),
		"avg_viewers": formatCount(lead.AvgViewers),
	}
	if sender != nil {
		vars["sender_name"] = sender.DisplayName()
		vars["sender_first_name"] = sender.FirstName
		vars["sender_email"] = sender.Email
	}
	return vars
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

func platformLabel(p model.Platform) string {
	switch p {
	case model.PlatformTwitch:
		return "Twitch"
	case model.PlatformYouTube:
		return "YouTube"
	default:
		return string(p)
	}
}

// formatCount renders 1234567 as "1,234,567".
func formatCount(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// RenderStep renders one sequence step for a lead.
func RenderStep(e model.SequenceEmail, vars map[string]string) model.RenderedEmail {
	missing := MissingVariables(e.Subject, vars)
	for _, m := range MissingVariables(e.Body, vars) {
		if !slices.Contains(missing, m) {
			missing = append(missing, m)
		}
	}
	return model.RenderedEmail{
		Step:    e.Step,
		Subject: Render(e.Subject, vars),
		Body:    Render(e.Body, vars),
		Missing: missing,
	}
}
