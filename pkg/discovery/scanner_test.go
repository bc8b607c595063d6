package discovery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udit2303/comp2/pkg/command"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// lineFeed is a LineReader the test writes to one line at a time.
type lineFeed chan string

func (f lineFeed) ReadLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-f:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

type staticSource struct {
	peers []DiscoveredPeer
	err   error
	done  chan struct{}
}

func (s *staticSource) Run(ctx context.Context, h EventHandler) error {
	defer close(s.done)
	for _, p := range s.peers {
		h.OnAdd(p)
	}
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return nil
}

type memRecorder struct {
	mu    sync.Mutex
	names []string
}

func (r *memRecorder) Record(p DiscoveredPeer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, p.ServiceName)
	return nil
}

func textPeer(name, direction string) DiscoveredPeer {
	return DiscoveredPeer{
		ServiceName: name,
		Properties:  Properties{"content": "text", "transport": "tcp", "direction": direction, "port": "2787"},
		Address:     net.IPv4(192, 168, 1, 9),
	}
}

type scanHarness struct {
	scanner *Scanner
	source  *staticSource
	feed    lineFeed
	out     *syncBuffer
	paths   [][]string
	mu      sync.Mutex
	errc    chan error
}

func startScan(t *testing.T, peers []DiscoveredPeer, dispatch DispatchFunc) *scanHarness {
	t.Helper()
	h := &scanHarness{
		source: &staticSource{peers: peers, done: make(chan struct{})},
		feed:   make(lineFeed),
		out:    &syncBuffer{},
		errc:   make(chan error, 1),
	}
	if dispatch == nil {
		dispatch = func(ctx context.Context, keys []string) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.paths = append(h.paths, keys)
			return nil
		}
	}
	h.scanner = NewScanner(ScannerOptions{
		Log:      testLogger(),
		Source:   h.source,
		Dispatch: dispatch,
		Input:    h.feed,
		Output:   h.out,
	})
	go func() { h.errc <- h.scanner.Run(context.Background()) }()
	require.Eventually(t, func() bool { return h.scanner.Candidates().Len() == len(peers) },
		time.Second, 5*time.Millisecond)
	return h
}

func (h *scanHarness) finish(t *testing.T) {
	t.Helper()
	h.feed <- "q"
	select {
	case err := <-h.errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scanner did not stop")
	}
	select {
	case <-h.source.done:
	default:
		t.Fatal("discovery session still running after Run returned")
	}
}

func TestScannerListsCandidates(t *testing.T) {
	h := startScan(t, []DiscoveredPeer{textPeer("a", "sink"), textPeer("b", "source")}, nil)
	h.feed <- ""
	h.finish(t)

	out := h.out.String()
	assert.Contains(t, out, "[0] a at 192.168.1.9 content=text direction=sink port=2787 transport=tcp")
	assert.Contains(t, out, "[1] b at 192.168.1.9 content=text direction=source port=2787 transport=tcp")
}

func TestScannerSelectionDispatchesComplementaryPath(t *testing.T) {
	h := startScan(t, []DiscoveredPeer{textPeer("a", "sink"), textPeer("b", "source")}, nil)
	h.feed <- "0"
	h.feed <- " 1 "
	h.finish(t)

	assert.Equal(t, [][]string{
		{"interact", "text", "source"},
		{"interact", "text", "sink"},
	}, h.paths)
}

func TestScannerOutOfRangeKeepsRunning(t *testing.T) {
	h := startScan(t, []DiscoveredPeer{textPeer("a", "sink")}, nil)
	h.feed <- "5"
	h.feed <- "-1"
	h.feed <- "zero"
	h.feed <- "0"
	h.finish(t)

	out := h.out.String()
	assert.Equal(t, 3, strings.Count(out, "invalid selection"))
	assert.Equal(t, 1, h.scanner.Candidates().Len())
	assert.Len(t, h.paths, 1)
}

func TestScannerRecoversFromResolutionErrors(t *testing.T) {
	video := textPeer("cam", "source")
	video.Properties["content"] = "video"
	broken := textPeer("broken", "sideways")

	d := command.NewDispatcher(command.DefaultTree(nil), command.Handlers{})
	h := startScan(t, []DiscoveredPeer{video, broken}, d.Dispatch)
	h.feed <- "0"
	h.feed <- "1"
	h.finish(t)

	out := h.out.String()
	assert.Contains(t, out, "invalid content: video (available keys: text)")
	assert.Contains(t, out, "broken: malformed announcement")
}

func TestScannerReportsSessionErrorsAndContinues(t *testing.T) {
	calls := 0
	h := startScan(t, []DiscoveredPeer{textPeer("a", "sink")}, func(ctx context.Context, keys []string) error {
		calls++
		return errors.New("connection refused")
	})
	h.feed <- "0"
	h.feed <- "0"
	h.finish(t)

	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, strings.Count(h.out.String(), "error: connection refused"))
}

func TestScannerRecordsPeersAndEvents(t *testing.T) {
	rec := &memRecorder{}
	out := &syncBuffer{}
	feed := make(lineFeed)
	s := NewScanner(ScannerOptions{
		Log:      testLogger(),
		Source:   &staticSource{done: make(chan struct{})},
		Dispatch: func(context.Context, []string) error { return nil },
		Input:    feed,
		Output:   out,
		Recorder: rec,
	})

	s.OnAdd(textPeer("a", "sink"))
	s.OnUpdate(textPeer("a", "source"))
	s.OnRemove("a")

	assert.Equal(t, []string{"a"}, rec.names)
	assert.Contains(t, out.String(), "+ [0] a")
	assert.Contains(t, out.String(), "~ a")
	assert.Contains(t, out.String(), "- a")
	assert.Equal(t, 1, s.Candidates().Len())
}

func TestScannerStopsOnBrowseFailure(t *testing.T) {
	cause := errors.New("multicast unavailable")
	s := NewScanner(ScannerOptions{
		Log:      testLogger(),
		Source:   &staticSource{err: cause, done: make(chan struct{})},
		Dispatch: func(context.Context, []string) error { return nil },
		Input:    make(lineFeed),
		Output:   &syncBuffer{},
	})

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, cause)
}

func TestScannerEndsOnEOFAndCancel(t *testing.T) {
	feed := make(lineFeed)
	close(feed)
	s := NewScanner(ScannerOptions{
		Log:      testLogger(),
		Source:   &staticSource{done: make(chan struct{})},
		Dispatch: func(context.Context, []string) error { return nil },
		Input:    feed,
		Output:   &syncBuffer{},
	})
	require.NoError(t, s.Run(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s = NewScanner(ScannerOptions{
		Log:      testLogger(),
		Source:   &staticSource{done: make(chan struct{})},
		Dispatch: func(context.Context, []string) error { return nil },
		Input:    make(lineFeed),
		Output:   &syncBuffer{},
	})
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
}
