// Package canonical normalizes URLs and derives stable identity keys.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix tags derived keys with the hash algorithm used.
const KeyPrefix = "url-sha256:"

// Canonicalize standardizes a URL so equivalent spellings map to one form.
// It lowercases the scheme and host, defaults a missing scheme to http,
// strips default ports, defaults an empty path to "/", sorts query
// parameters by (key, value) pair, and drops any fragment.
func Canonicalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("empty url")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	if u.Path == "" {
		u.Path = "/"
	}

	u.RawQuery = sortQuery(u.RawQuery)
	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}

// DeriveKey returns the identity key for a canonical URL: a tagged SHA-256
// digest of the canonical form. Pure function, no I/O.
func DeriveKey(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

type queryPair struct {
	key   string
	value string
}

// sortQuery re-encodes a query string with pairs ordered lexicographically
// by (key, value). Blank values are preserved.
func sortQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	pairs := make([]queryPair, 0, 4)
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		k, err := url.QueryUnescape(key)
		if err != nil {
			k = key
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			v = value
		}
		pairs = append(pairs, queryPair{key: k, value: v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}
