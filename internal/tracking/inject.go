package tracking

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/ignite/mailflow/internal/domain"
)

var (
	// Matches the href of an anchor tag, double- or single-quoted.
	anchorHrefRe = regexp.MustCompile(`(?is)(<a\b[^>]*?\shref\s*=\s*)(?:"([^"]*)"|'([^']*)')`)
	closeBodyRe  = regexp.MustCompile(`(?i)</body\s*>`)
)

// InjectTracking returns html with every http(s) anchor wrapped in a
// click-tracking redirect and an open pixel placed before the last
// </body>, or appended when there is no body tag. Links that already
// point at the tracking endpoints are kept, and a second pass adds no
// second pixel. mailto:, tel:, fragment and relative links are left alone.
func InjectTracking(body string, ctx domain.TrackingContext) string {
	if ctx.ContactID == "" {
		return body
	}
	trackHost, trackPath := splitBase(ctx)

	out := anchorHrefRe.ReplaceAllStringFunc(body, func(tag string) string {
		m := anchorHrefRe.FindStringSubmatch(tag)
		quote, href := `"`, m[2]
		if strings.HasPrefix(tag[len(m[1]):], "'") {
			quote, href = "'", m[3]
		}
		dest := html.UnescapeString(strings.TrimSpace(href))
		if !wrappable(dest, trackHost, trackPath) {
			return tag
		}
		return m[1] + quote + ClickURL(ctx, dest) + quote
	})

	pixelSrc := OpenURL(ctx)
	if strings.Contains(out, pixelSrc) {
		return out
	}
	pixel := `<img src="` + pixelSrc + `" width="1" height="1" alt="" style="display:none" />`

	locs := closeBodyRe.FindAllStringIndex(out, -1)
	if len(locs) == 0 {
		return out + pixel
	}
	at := locs[len(locs)-1][0]
	return out[:at] + pixel + out[at:]
}

// wrappable reports whether dest is an absolute http(s) link that does not
// already point under the tracking endpoints at trackHost+trackPath.
func wrappable(dest, trackHost, trackPath string) bool {
	u, err := url.Parse(dest)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	if strings.HasPrefix(u.Path, trackPath) && (trackHost == "" || strings.EqualFold(u.Host, trackHost)) {
		return false
	}
	return true
}

// splitBase returns the host of the tracking base URL and the path prefix
// its endpoints are served under, including any path in the base itself.
func splitBase(ctx domain.TrackingContext) (host, prefix string) {
	u, err := url.Parse(baseURL(ctx))
	if err != nil {
		return "", pathPrefix
	}
	return u.Host, strings.TrimRight(u.Path, "/") + pathPrefix
}
