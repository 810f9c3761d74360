package templating

import (
	"regexp"
	"sort"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*(\w+)\s*(?:\|\s*"([^"]*)"\s*)?\}\}`)

// Render substitutes every simple placeholder in content. Unknown
// variables become the empty string (or their fallback). Malformed
// placeholders are not touched.
func Render(content string, vars map[string]string) string {
	if content == "" {
		return content
	}
	return placeholderRe.ReplaceAllStringFunc(content, func(match string) string {
		m := placeholderRe.FindStringSubmatch(match)
		if v, ok := vars[m[1]]; ok && v != "" {
			return v
		}
		// m[2] is "" when there is no fallback.
		return m[2]
	})
}

// Placeholders lists the distinct variable names referenced by content,
// sorted.
func Placeholders(content string) []string {
	seen := map[string]struct{}{}
	for _, m := range placeholderRe.FindAllStringSubmatch(content, -1) {
		seen[m[1]] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
