package match

import (
	"net/url"
	"regexp"
	"strings"
)

// TimestampParam is the replay-server query parameter selecting the capture
// timestamp a URL is served from.
const TimestampParam = "pywb_ts"

// quotedURL matches quoted absolute or protocol-relative URLs that carry a
// path. Relative URLs are left alone: pinning them broke relative lookups
// in JSON payloads.
var quotedURL = regexp.MustCompile(`(["'])((?:https?:)?//[^\s"'<>]+/[^\s"'<>]+)(["'])`)

// AddTimestamp appends TimestampParam=ts to every quoted URL in a tag's
// text, so a replay server resolves transplanted references against the
// capture they came from. A URL already carrying the parameter has it
// replaced. JSON-escaped URLs ending in a backslash keep the backslash
// outside the rewritten URL.
func AddTimestamp(tag, ts string) string {
	return quotedURL.ReplaceAllStringFunc(tag, func(m string) string {
		sub := quotedURL.FindStringSubmatch(m)
		open, raw, closing := sub[1], sub[2], sub[3]
		if strings.HasSuffix(raw, `\`) {
			raw = strings.TrimSuffix(raw, `\`)
			closing = `\` + closing
		}
		return open + withQueryParam(raw, TimestampParam, ts) + closing
	})
}

func withQueryParam(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has(key) {
		q.Set(key, value)
		u.RawQuery = q.Encode()
		return u.String()
	}
	pair := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	if u.RawQuery == "" {
		u.RawQuery = pair
	} else {
		u.RawQuery += "&" + pair
	}
	u.ForceQuery = false
	return u.String()
}
