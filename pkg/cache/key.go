package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every key this package writes.
const KeyPrefix = "tcgdex"

// Key identifies a cached response by its request URL.
type Key struct {
	URL string
}

// String generates a deterministic cache key string.
// Format: tcgdex:host/path:query1=val1:query2=val2
//
// Example:
//
//	tcgdex:api.tcgdex.net/v2/en/cards/swsh3-136
func (k Key) String() string {
	parts := []string{KeyPrefix}

	u, err := url.Parse(k.URL)
	if err != nil || u.Host == "" {
		return strings.Join(append(parts, strings.Trim(k.URL, "/")), ":")
	}

	parts = append(parts, strings.ToLower(u.Host)+strings.TrimRight(u.EscapedPath(), "/"))

	// query params sorted for determinism
	query := u.Query()
	if len(query) > 0 {
		names := make([]string, 0, len(query))
		for name := range query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, name+"="+query.Get(name))
		}
	}

	return strings.Join(parts, ":")
}
