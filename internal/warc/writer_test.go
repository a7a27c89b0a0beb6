package warc

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteResponse(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)

	err := w.WriteResponse(Record{
		TargetURI:   "http://example.com/",
		Date:        time.Date(2026, 1, 7, 3, 14, 15, 0, time.UTC),
		StatusCode:  200,
		Headers:     http.Header{"Content-Type": []string{"text/html"}},
		Body:        []byte("<html>hi</html>"),
		ContentType: "text/html",
	})
	require.NoError(t, err)

	gz, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)
	record := string(raw)

	assert.True(t, strings.HasPrefix(record, "WARC/1.0\r\n"))
	assert.Contains(t, record, "WARC-Type: response")
	assert.Contains(t, record, "WARC-Target-URI: http://example.com/")
	assert.Contains(t, record, "WARC-Date: 2026-01-07T03:14:15Z")
	assert.Contains(t, record, "HTTP/1.1 200 OK")
	assert.Contains(t, record, "<html>hi</html>")
}

func TestWriteResponseMultipleMembers(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.WriteResponse(Record{
			TargetURI: "http://example.com/r",
			Date:      time.Now(),
			Body:      []byte("body"),
		}))
	}

	// A multi-member gzip stream must decompress end to end.
	gz, err := gzip.NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	all, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(all), "WARC/1.0"))
}
