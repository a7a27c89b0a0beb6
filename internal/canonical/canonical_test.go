package canonical

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTP://Example.COM/Page", "http://example.com/Page"},
		{"defaults missing scheme", "example.com/page", "http://example.com/page"},
		{"strips default http port", "http://a.com:80/", "http://a.com/"},
		{"strips default https port", "https://a.com:443/x", "https://a.com/x"},
		{"keeps non-default port", "http://a.com:8080/", "http://a.com:8080/"},
		{"defaults empty path", "http://a.com", "http://a.com/"},
		{"sorts query params", "http://a.com/p?b=2&a=1", "http://a.com/p?a=1&b=2"},
		{"sorts values within key", "http://a.com/p?a=2&a=1", "http://a.com/p?a=1&a=2"},
		{"preserves blank values", "http://a.com/p?b=&a=1", "http://a.com/p?a=1&b="},
		{"drops fragment", "http://a.com/p#section", "http://a.com/p"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	t.Parallel()

	urls := []string{
		"HTTP://Example.com:80/Page?z=1&a=2",
		"https://a.com:443/path?b=&a=1#frag",
		"example.com",
		"http://a.com:8080/x?q=hello%20world",
	}
	for _, raw := range urls {
		once, err := Canonicalize(raw)
		require.NoError(t, err)
		twice, err := Canonicalize(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "canonicalize not idempotent for %q", raw)
	}
}

func TestCanonicalizeOrderInsensitive(t *testing.T) {
	t.Parallel()

	a, err := Canonicalize("http://a.com/p?b=2&a=1")
	require.NoError(t, err)
	b, err := Canonicalize("http://a.com/p?a=1&b=2")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalizeDistinctPorts(t *testing.T) {
	t.Parallel()

	withPort, err := Canonicalize("http://a.com:8080/")
	require.NoError(t, err)
	without, err := Canonicalize("http://a.com/")
	require.NoError(t, err)
	assert.NotEqual(t, withPort, without)
}

func TestCanonicalizeEmpty(t *testing.T) {
	t.Parallel()

	_, err := Canonicalize("   ")
	assert.Error(t, err)
}

func TestDeriveKey(t *testing.T) {
	t.Parallel()

	key := DeriveKey("http://example.com/")
	assert.True(t, strings.HasPrefix(key, "url-sha256:"))
	assert.Len(t, key, len("url-sha256:")+64)

	// Pure function: same input always yields the same output.
	assert.Equal(t, key, DeriveKey("http://example.com/"))
	assert.NotEqual(t, key, DeriveKey("http://example.org/"))
}
