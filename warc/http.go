package warc

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"net/http/httputil"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
)

// HTTPMessage is the HTTP response carried in a response record's block.
type HTTPMessage struct {
	StatusLine string
	Header     Header
	// Body is the payload as stored, still transfer- and content-encoded.
	Body []byte
}

// ParseHTTP splits a response block into status line, headers and body.
func ParseHTTP(block []byte) (*HTTPMessage, error) {
	headEnd, sepLen := bytes.Index(block, []byte("\r\n\r\n")), 4
	if headEnd < 0 {
		headEnd, sepLen = bytes.Index(block, []byte("\n\n")), 2
	}
	if headEnd < 0 {
		return nil, fmt.Errorf("%w: http head not terminated", ErrMalformed)
	}
	lines := strings.Split(strings.ReplaceAll(string(block[:headEnd]), "\r\n", "\n"), "\n")
	if !strings.HasPrefix(lines[0], "HTTP/") {
		return nil, fmt.Errorf("%w: status line %q", ErrMalformed, lines[0])
	}
	msg := &HTTPMessage{StatusLine: lines[0], Body: block[headEnd+sepLen:]}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && len(msg.Header) > 0 {
			last := &msg.Header[len(msg.Header)-1]
			last.Value += " " + strings.TrimSpace(line)
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		msg.Header = append(msg.Header, Field{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return msg, nil
}

// Bytes serializes the message.
func (m *HTTPMessage) Bytes() []byte {
	var b bytes.Buffer
	b.WriteString(m.StatusLine)
	b.WriteString("\r\n")
	m.Header.writeTo(&b)
	b.WriteString("\r\n")
	b.Write(m.Body)
	return b.Bytes()
}

// Decoded returns the body with transfer and content encodings undone.
func (m *HTTPMessage) Decoded() ([]byte, error) {
	body := m.Body
	if strings.Contains(strings.ToLower(m.Header.Get("Transfer-Encoding")), "chunked") {
		b, err := io.ReadAll(httputil.NewChunkedReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("warc: dechunk: %w", err)
		}
		body = b
	}
	codings := strings.Split(m.Header.Get("Content-Encoding"), ",")
	for i := len(codings) - 1; i >= 0; i-- {
		b, err := decodeContent(strings.ToLower(strings.TrimSpace(codings[i])), body)
		if err != nil {
			return nil, err
		}
		body = b
	}
	return body, nil
}

func decodeContent(coding string, body []byte) ([]byte, error) {
	var r io.Reader
	switch coding {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("warc: gzip body: %w", err)
		}
		defer gz.Close()
		r = gz
	case "deflate":
		// Servers send both zlib-wrapped and raw deflate.
		if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
			defer zr.Close()
			r = zr
		} else {
			fr := flate.NewReader(bytes.NewReader(body))
			defer fr.Close()
			r = fr
		}
	case "br":
		r = brotli.NewReader(bytes.NewReader(body))
	default:
		return nil, fmt.Errorf("warc: unsupported content encoding %q", coding)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("warc: decode %s body: %w", coding, err)
	}
	return out, nil
}

// SetBody stores body decoded: encodings are dropped and Content-Length
// follows the new body.
func (m *HTTPMessage) SetBody(body []byte) {
	m.Header.Del("Content-Encoding")
	m.Header.Del("Transfer-Encoding")
	m.Header.Set("Content-Length", strconv.Itoa(len(body)))
	m.Body = body
}
