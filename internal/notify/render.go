package notify

import (
	"regexp"
	"sort"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Render replaces every {{ name }} in text with vars[name]. Unknown names
// render as empty and are returned, sorted and deduplicated, as missing.
func Render(text string, vars map[string]string) (string, []string) {
	seen := map[string]bool{}
	out := placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		seen[name] = true
		return ""
	})
	var missing []string
	for name := range seen {
		missing = append(missing, name)
	}
	sort.Strings(missing)
	return strings.TrimSpace(out), missing
}

// Variables lists the placeholder names used in text, in order of first use.
func Variables(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}
