package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	kind string
	name string
}

type recordingHandler struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (h *recordingHandler) add(kind, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, recordedEvent{kind, name})
}

func (h *recordingHandler) OnAdd(p DiscoveredPeer)    { h.add("add", p.ServiceName) }
func (h *recordingHandler) OnUpdate(p DiscoveredPeer) { h.add("update", p.ServiceName) }
func (h *recordingHandler) OnRemove(name string)      { h.add("remove", name) }

func (h *recordingHandler) snapshot() []recordedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]recordedEvent(nil), h.events...)
}

func entry(instance string, text ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, ServiceType, Domain)
	e.Port = 2787
	e.Text = text
	e.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 20)}
	return e
}

// scriptedBrowse replays one slice of entries per round and repeats the last one.
// Like the resolver, it closes entries once the round's context ends.
func scriptedBrowse(rounds ...[]*zeroconf.ServiceEntry) browseFunc {
	var mu sync.Mutex
	n := 0
	return func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
		mu.Lock()
		round := rounds[min(n, len(rounds)-1)]
		n++
		mu.Unlock()
		for _, e := range round {
			entries <- e
		}
		go func() {
			<-ctx.Done()
			close(entries)
		}()
		return nil
	}
}

func TestBrowserAddUpdateRemove(t *testing.T) {
	sinkText := []string{"content=text", "transport=tcp", "direction=sink", "port=2787"}
	movedText := []string{"content=text", "transport=tcp", "direction=sink", "port=2788"}
	sourceText := []string{"content=text", "transport=tcp", "direction=source", "port=2787"}

	b := &Browser{
		log:     testLogger(),
		refresh: 20 * time.Millisecond,
		browse: scriptedBrowse(
			[]*zeroconf.ServiceEntry{entry("a", sinkText...), entry("b", sourceText...)},
			[]*zeroconf.ServiceEntry{entry("a", movedText...)},
			[]*zeroconf.ServiceEntry{entry("a", movedText...)},
		),
	}
	h := &recordingHandler{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, h) }()

	want := []recordedEvent{{"add", "a"}, {"add", "b"}, {"update", "a"}, {"remove", "b"}}
	require.Eventually(t, func() bool { return len(h.snapshot()) >= len(want) }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, want, h.snapshot())
}

func TestBrowserSkipsIncompleteEntries(t *testing.T) {
	b := &Browser{
		log:     testLogger(),
		refresh: 20 * time.Millisecond,
		browse: scriptedBrowse([]*zeroconf.ServiceEntry{
			entry("no-txt"),
			entry("bad-utf8", "content=\xff"),
			nil,
		}),
	}
	h := &recordingHandler{}
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	require.NoError(t, b.Run(ctx, h))
	assert.Empty(t, h.snapshot())
}

func TestBrowserReturnsBrowseError(t *testing.T) {
	cause := errors.New("no interfaces")
	b := &Browser{
		log:     testLogger(),
		refresh: time.Second,
		browse: func(context.Context, string, string, chan<- *zeroconf.ServiceEntry) error {
			return cause
		},
	}

	err := b.Run(context.Background(), &recordingHandler{})
	assert.ErrorIs(t, err, cause)
}

func TestBrowserToleratesClosedEntries(t *testing.T) {
	b := &Browser{
		log:     testLogger(),
		refresh: 20 * time.Millisecond,
		browse: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			entries <- entry("a", "content=text", "transport=tcp", "direction=sink", "port=2787")
			close(entries)
			return nil
		},
	}
	h := &recordingHandler{}
	ctx, cancel := context.WithTimeout(context.Background(), 70*time.Millisecond)
	defer cancel()

	require.NoError(t, b.Run(ctx, h))
	assert.Equal(t, []recordedEvent{{"add", "a"}}, h.snapshot())
}

func TestBrowserKeepsReadingAfterRoundEnds(t *testing.T) {
	sinkText := []string{"content=text", "transport=tcp", "direction=sink", "port=2787"}
	flushed := make(chan struct{})
	var once sync.Once
	b := &Browser{
		log:     testLogger(),
		refresh: 20 * time.Millisecond,
		browse: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			late := false
			once.Do(func() { late = true })
			go func() {
				<-ctx.Done()
				if late {
					// more responses than the channel buffers, all after the round is over
					for i := 0; i < 64; i++ {
						entries <- entry("late", sinkText...)
					}
					close(flushed)
				}
				close(entries)
			}()
			return nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, &recordingHandler{}) }()

	select {
	case <-flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("resolver blocked sending after the round ended")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestBrowserIgnoresAddressOrder(t *testing.T) {
	sinkText := []string{"content=text", "transport=tcp", "direction=sink", "port=2787"}
	first := entry("a", sinkText...)
	first.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 30), net.IPv4(10, 0, 0, 4)}
	second := entry("a", sinkText...)
	second.AddrIPv4 = []net.IP{net.IPv4(10, 0, 0, 4), net.IPv4(192, 168, 1, 30)}

	b := &Browser{
		log:     testLogger(),
		refresh: 20 * time.Millisecond,
		browse:  scriptedBrowse([]*zeroconf.ServiceEntry{first}, []*zeroconf.ServiceEntry{second}),
	}
	h := &recordingHandler{}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, b.Run(ctx, h))
	assert.Equal(t, []recordedEvent{{"add", "a"}}, h.snapshot())

	p, ok := b.peerFromEntry(second)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.4", p.Address.String())
}

func TestPeerFromEntryPrefersIPv4(t *testing.T) {
	b := NewBrowser(testLogger(), 0)
	assert.Equal(t, DefaultRefresh, b.refresh)

	e := entry("a", "content=text")
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	p, ok := b.peerFromEntry(e)
	require.True(t, ok)
	assert.True(t, p.Address.Equal(net.IPv4(192, 168, 1, 20)))
	assert.Equal(t, Properties{"content": "text"}, p.Properties)
}
