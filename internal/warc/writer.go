// Package warc writes WARC/1.0 response records in the gzipped form used
// by web archives (one gzip member per record).
package warc

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const version = "WARC/1.0"

// Record describes one captured HTTP response.
type Record struct {
	TargetURI   string
	Date        time.Time
	StatusCode  int
	StatusText  string
	Headers     http.Header
	Body        []byte
	ContentType string
}

// Writer emits WARC records to an underlying stream.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w. Callers own closing the underlying stream.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteResponse writes one response record as its own gzip member, so the
// output concatenates into a standard .warc.gz.
func (w *Writer) WriteResponse(rec Record) error {
	payload := buildHTTPPayload(rec)

	var block bytes.Buffer
	fmt.Fprintf(&block, "%s\r\n", version)
	fmt.Fprintf(&block, "WARC-Type: response\r\n")
	fmt.Fprintf(&block, "WARC-Record-ID: <urn:uuid:%s>\r\n", uuid.NewString())
	fmt.Fprintf(&block, "WARC-Date: %s\r\n", rec.Date.UTC().Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(&block, "WARC-Target-URI: %s\r\n", rec.TargetURI)
	fmt.Fprintf(&block, "Content-Type: application/http;msgtype=response\r\n")
	fmt.Fprintf(&block, "Content-Length: %d\r\n", len(payload))
	block.WriteString("\r\n")
	block.Write(payload)
	block.WriteString("\r\n\r\n")

	gz := gzip.NewWriter(w.w)
	if _, err := gz.Write(block.Bytes()); err != nil {
		gz.Close() //nolint:errcheck // write error takes precedence
		return fmt.Errorf("write warc record: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close warc record: %w", err)
	}
	return nil
}

func buildHTTPPayload(rec Record) []byte {
	status := rec.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	text := rec.StatusText
	if text == "" {
		text = http.StatusText(status)
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, text)
	wroteContentType := false
	for key, values := range rec.Headers {
		for _, v := range values {
			fmt.Fprintf(&b, "%s: %s\r\n", key, v)
		}
		if http.CanonicalHeaderKey(key) == "Content-Type" {
			wroteContentType = true
		}
	}
	if !wroteContentType && rec.ContentType != "" {
		fmt.Fprintf(&b, "Content-Type: %s\r\n", rec.ContentType)
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(rec.Body))
	b.WriteString("\r\n")
	b.Write(rec.Body)
	return b.Bytes()
}
