package helpers

import (
	"net/url"
	"sort"
	"strings"
)

// BuildURL appends params to base as a query string. Empty values are omitted
// and keys are sorted so the same parameters always produce the same URL.
func BuildURL(base string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return base
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		values.Set(k, params[k])
	}

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + values.Encode()
}

// CanonicalURL strips the query string and fragment from href and promotes a
// root-relative path to an absolute URL on origin.
func CanonicalURL(href, origin string) string {
	href = strings.TrimSpace(href)
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	if strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "//") {
		return strings.TrimRight(origin, "/") + href
	}
	return href
}

// Origin returns scheme://host of rawURL, or "" when it cannot be parsed.
func Origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// SplitList splits a delimited attribute value, dropping empty items.
func SplitList(value, sep string) []string {
	parts := strings.Split(value, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// QueryParam returns the value of key in href's query string.
func QueryParam(href, key string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return u.Query().Get(key)
}
