package netconn

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Stats counts the bytes a session moves in each direction.
type Stats struct {
	start time.Time
	in    atomic.Int64
	out   atomic.Int64
}

func NewStats() *Stats {
	return &Stats{start: time.Now()}
}

func (s *Stats) BytesIn() int64  { return s.in.Load() }
func (s *Stats) BytesOut() int64 { return s.out.Load() }

func (s *Stats) Elapsed() time.Duration { return time.Since(s.start) }

// Wrap returns rw with its traffic counted into s.
func (s *Stats) Wrap(rw io.ReadWriter) io.ReadWriter {
	return &countingReadWriter{rw: rw, stats: s}
}

func (s *Stats) String() string {
	return fmt.Sprintf("in %s, out %s in %s",
		formatBytes(float64(s.BytesIn())),
		formatBytes(float64(s.BytesOut())),
		s.Elapsed().Round(time.Millisecond))
}

type countingReadWriter struct {
	rw    io.ReadWriter
	stats *Stats
}

func (c *countingReadWriter) Read(p []byte) (int, error) {
	n, err := c.rw.Read(p)
	c.stats.in.Add(int64(n))
	return n, err
}

func (c *countingReadWriter) Write(p []byte) (int, error) {
	n, err := c.rw.Write(p)
	c.stats.out.Add(int64(n))
	return n, err
}

// formatBytes converts bytes to a human-readable string
func formatBytes(bytes float64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%.0f B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", bytes/float64(div), "KMGTPE"[exp])
}
