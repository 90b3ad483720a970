package db

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// ItemKey derives the dedup key of an item from its feed and its GUID, or
// the normalized link when the entry has no GUID. Returns "" when both are empty.
func ItemKey(feedURL, guid, link string) string {
	var identity string
	switch {
	case strings.TrimSpace(guid) != "":
		identity = "guid:" + strings.TrimSpace(guid)
	case strings.TrimSpace(link) != "":
		identity = "link:" + NormalizeLink(link)
	default:
		return ""
	}

	sum := sha256.Sum256([]byte(feedURL + "\x00" + identity))
	return hex.EncodeToString(sum[:])
}

// NormalizeLink canonicalizes an item link so trivially different spellings of
// the same URL collapse: scheme and host are lowercased, default ports, the
// fragment, utm_* tracking parameters and a trailing slash are dropped, and the
// remaining query parameters are sorted.
func NormalizeLink(link string) string {
	link = strings.TrimSpace(link)
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return link
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	if u.RawQuery != "" {
		values := u.Query()
		for name := range values {
			if strings.HasPrefix(strings.ToLower(name), "utm_") {
				values.Del(name)
			}
		}
		keys := make([]string, 0, len(values))
		for name := range values {
			keys = append(keys, name)
		}
		sort.Strings(keys)

		var parts []string
		for _, name := range keys {
			vals := values[name]
			sort.Strings(vals)
			for _, v := range vals {
				parts = append(parts, url.QueryEscape(name)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(parts, "&")
		u.ForceQuery = false
	}

	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	} else if u.Path == "/" {
		u.Path = ""
	}

	return u.String()
}
