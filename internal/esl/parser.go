package esl

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// ProtocolError marks a malformed or truncated frame. It is connection-fatal:
// the caller must close the socket and reconnect, never resync mid-stream.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "esl: protocol error: " + e.Op
	}
	return fmt.Sprintf("esl: protocol error: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Parser decodes event-socket frames from a byte stream.
type Parser struct {
	r *bufio.Reader
}

// NewParser creates a Parser reading from r.
func NewParser(r io.Reader) *Parser {
	return &Parser{r: bufio.NewReader(r)}
}

// Next reads the next frame from the stream.
// It returns io.EOF when the stream ends cleanly on a frame boundary and a
// *ProtocolError when it ends inside a header block or declared body.
func (p *Parser) Next() (Event, error) {
	var headers []header

	for {
		line, err := p.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && len(headers) == 0 && line == "" {
				return Event{}, io.EOF
			}
			return Event{}, &ProtocolError{Op: "unterminated header block", Err: err}
		}
		line = strings.TrimRight(line, "\r\n")

		// Blank line terminates the header block. Leading blanks between
		// frames are tolerated.
		if line == "" {
			if len(headers) == 0 {
				continue
			}
			break
		}

		idx := strings.Index(line, ":")
		if idx < 0 {
			// Banner-style lines without a colon carry nothing we need.
			continue
		}
		headers = append(headers, header{
			Key:   strings.TrimSpace(line[:idx]),
			Value: strings.TrimSpace(line[idx+1:]),
		})
	}

	ev := Event{headers: headers}

	if cl := ev.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return Event{}, &ProtocolError{Op: "invalid Content-Length " + cl}
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(p.r, buf); err != nil {
			return Event{}, &ProtocolError{Op: "body shorter than declared", Err: err}
		}
		ev.body = parseBody(string(buf))
	}

	return ev, nil
}

// parseBody decodes the flat "key: value" block carried as a frame body.
// Values containing percent-encoding are decoded; undecodable values are
// kept verbatim.
func parseBody(raw string) map[string]string {
	body := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		if strings.Contains(val, "%") {
			if dec, err := url.PathUnescape(val); err == nil {
				val = dec
			}
		}
		body[key] = val
	}
	return body
}

// Marshal encodes headers plus an optional body into wire format, adding a
// Content-Length header when a body is present. Body values are
// percent-escaped so that decoding reproduces them exactly.
func Marshal(headers [][2]string, body map[string]string) []byte {
	var bodyBuf strings.Builder
	for k, v := range body {
		bodyBuf.WriteString(k)
		bodyBuf.WriteString(": ")
		bodyBuf.WriteString(url.PathEscape(v))
		bodyBuf.WriteString("\n")
	}

	var b strings.Builder
	for _, h := range headers {
		b.WriteString(h[0])
		b.WriteString(": ")
		b.WriteString(h[1])
		b.WriteString("\n")
	}
	if bodyBuf.Len() > 0 {
		b.WriteString("Content-Length: ")
		b.WriteString(strconv.Itoa(bodyBuf.Len()))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(bodyBuf.String())
	return []byte(b.String())
}
