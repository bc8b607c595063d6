package netconn

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	ReadChunkSize   = 512
	DefaultPayload  = "Hello World!"
	DefaultInterval = time.Second
)

// LineReader supplies operator input.
type LineReader interface {
	ReadLine(ctx context.Context) (string, error)
}

// ReceiveText reads r in chunks of at most ReadChunkSize bytes and surfaces each as
// text without its trailing line break. Runes split between chunks are reassembled
// and invalid bytes become U+FFFD. A clean EOF ends the loop without error.
func ReceiveText(r io.Reader, surface func(text string)) error {
	dec := transform.NewReader(r, unicode.UTF8.NewDecoder())
	buf := make([]byte, ReadChunkSize)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			surface(strings.TrimRight(string(buf[:n]), "\r\n"))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &SessionError{Op: "read", Err: err}
		}
	}
}

// SendTicker writes payload as one line immediately and then once per interval
// until a write fails or ctx ends.
func SendTicker(ctx context.Context, w io.Writer, payload string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	line := payload + "\n"
	for {
		if _, err := io.WriteString(w, line); err != nil {
			return &SessionError{Op: "write", Err: err}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SendLines writes each operator line followed by a newline. End of input ends the
// session cleanly.
func SendLines(ctx context.Context, w io.Writer, in LineReader) error {
	for {
		line, err := in.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return &SessionError{Op: "write", Err: err}
		}
	}
}
