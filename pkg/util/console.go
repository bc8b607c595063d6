package util

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// Console hands out operator input one line at a time. A single goroutine owns the
// reader so that the scanner prompt and a client source session can share stdin,
// and so a blocked read can be abandoned when the context ends.
type Console struct {
	lines chan string
	done  chan struct{}
	err   error
}

// NewConsole starts reading r. The reader goroutine exits at EOF or on a read error.
func NewConsole(r io.Reader) *Console {
	c := &Console{
		lines: make(chan string),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			c.lines <- strings.TrimRight(sc.Text(), "\r")
		}
		c.err = sc.Err()
	}()
	return c
}

// ReadLine blocks until a line is available, input ends (io.EOF) or ctx is done.
func (c *Console) ReadLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line := <-c.lines:
		return line, nil
	case <-c.done:
		if c.err != nil {
			return "", c.err
		}
		return "", io.EOF
	}
}
