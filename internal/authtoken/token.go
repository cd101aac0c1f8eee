// Package authtoken reads the backend auth token from a landing URL and strips it.
package authtoken

import (
	"fmt"
	"net/url"
	"strings"
)

// QueryParam is the query parameter that carries the auth token.
const QueryParam = "mwi_auth_token"

// Extract returns the first non-empty auth token in rawURL together with rawURL
// rewritten without any token parameter. Other parameters keep their order and
// encoding, and the fragment is kept. Extracting from the rewritten URL never
// finds a token again.
func Extract(rawURL string) (token string, rewritten string, found bool, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", false, fmt.Errorf("parse landing url: %w", err)
	}
	if u.RawQuery == "" {
		return "", rawURL, false, nil
	}

	kept := make([]string, 0, strings.Count(u.RawQuery, "&")+1)
	for _, pair := range strings.Split(u.RawQuery, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if k, kerr := url.QueryUnescape(key); kerr != nil || k != QueryParam {
			kept = append(kept, pair)
			continue
		}
		if found {
			continue
		}
		v, verr := url.QueryUnescape(value)
		if verr != nil {
			return "", "", false, fmt.Errorf("decode %s: %w", QueryParam, verr)
		}
		if v != "" {
			token, found = v, true
		}
	}

	u.RawQuery = strings.Join(kept, "&")
	u.ForceQuery = false
	return token, u.String(), found, nil
}
