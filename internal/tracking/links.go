package tracking

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strings"

	"github.com/ignite/mailflow/internal/domain"
)

const (
	pathPrefix      = "/track/"
	openPath        = "/track/open"
	clickPath       = "/track/click"
	unsubscribePath = "/track/unsubscribe"
)

// ErrBadDestination is returned for click targets that are not absolute
// http(s) URLs.
var ErrBadDestination = errors.New("destination must be an absolute http(s) URL")

// EncodeURL encodes a destination for the u parameter.
func EncodeURL(raw string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeURL reverses EncodeURL. Padded input is accepted too.
func DecodeURL(encoded string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ValidDestination parses a decoded click target and rejects anything a
// browser should not be redirected to.
func ValidDestination(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrBadDestination
	}
	return u, nil
}

func baseURL(ctx domain.TrackingContext) string {
	return strings.TrimRight(ctx.BaseURL, "/")
}

func query(ctx domain.TrackingContext, extra ...string) string {
	v := url.Values{}
	v.Set("cid", ctx.ContactID)
	if ctx.CampaignID != "" {
		v.Set("cmp", ctx.CampaignID)
	}
	for i := 0; i+1 < len(extra); i += 2 {
		v.Set(extra[i], extra[i+1])
	}
	return v.Encode()
}

// OpenURL is the pixel source for a recipient.
func OpenURL(ctx domain.TrackingContext) string {
	return baseURL(ctx) + openPath + "?" + query(ctx)
}

// ClickURL wraps a destination in a click-tracking redirect.
func ClickURL(ctx domain.TrackingContext, destination string) string {
	return baseURL(ctx) + clickPath + "?" + query(ctx, "u", EncodeURL(destination))
}

// UnsubscribeURL is the one-click unsubscribe link for a recipient.
func UnsubscribeURL(ctx domain.TrackingContext) string {
	return baseURL(ctx) + unsubscribePath + "?" + query(ctx)
}

// UnsubscribeHeaders returns RFC 2369 and RFC 8058 list headers.
func UnsubscribeHeaders(ctx domain.TrackingContext) map[string]string {
	return map[string]string{
		"List-Unsubscribe":      "<" + UnsubscribeURL(ctx) + ">",
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
	}
}
