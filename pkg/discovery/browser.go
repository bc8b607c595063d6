package discovery

import (
	"bytes"
	"context"
	"net"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/udit2303/comp2/pkg/util"
)

const DefaultRefresh = 15 * time.Second

// EventHandler receives discovery events. Calls come from the browser goroutine.
type EventHandler interface {
	OnAdd(peer DiscoveredPeer)
	OnUpdate(peer DiscoveredPeer)
	OnRemove(serviceName string)
}

// EventSource delivers discovery events until ctx ends.
type EventSource interface {
	Run(ctx context.Context, h EventHandler) error
}

// Browser watches the LAN for ServiceType announcements.
//
// mDNS browsing only reports what it hears, so the browser works in rounds of
// refresh length. Within a round an unseen instance is an add and a changed one is
// an update; an instance that stays silent for a whole round is a remove.
type Browser struct {
	log     *util.Logger
	refresh time.Duration
	browse  browseFunc
}

func NewBrowser(log *util.Logger, refresh time.Duration) *Browser {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return &Browser{log: log, refresh: refresh, browse: zeroconfBrowse}
}

func (b *Browser) Run(ctx context.Context, h EventHandler) error {
	known := make(map[string]DiscoveredPeer)
	for {
		seen, err := b.round(ctx, known, h)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		for name := range known {
			if _, ok := seen[name]; !ok {
				delete(known, name)
				h.OnRemove(name)
			}
		}
	}
}

func (b *Browser) round(ctx context.Context, known map[string]DiscoveredPeer, h EventHandler) (map[string]struct{}, error) {
	rctx, cancel := context.WithTimeout(ctx, b.refresh)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := b.browse(rctx, ServiceType, Domain, entries); err != nil {
		return nil, err
	}
	// The resolver may still be sending when the round ends; keep reading until
	// it closes the channel so it never blocks.
	defer func() {
		go func() {
			for range entries {
			}
		}()
	}()

	seen := make(map[string]struct{})
	in := entries
	for {
		select {
		case <-rctx.Done():
			return seen, nil
		case e, ok := <-in:
			if !ok {
				// resolver gave up early; hold the round open so silence still counts
				in = nil
				continue
			}
			peer, ok := b.peerFromEntry(e)
			if !ok {
				continue
			}
			seen[peer.ServiceName] = struct{}{}
			prev, exists := known[peer.ServiceName]
			switch {
			case !exists:
				known[peer.ServiceName] = peer
				h.OnAdd(peer)
			case !prev.equal(peer):
				known[peer.ServiceName] = peer
				h.OnUpdate(peer)
			}
		}
	}
}

func (b *Browser) peerFromEntry(e *zeroconf.ServiceEntry) (DiscoveredPeer, bool) {
	if e == nil {
		return DiscoveredPeer{}, false
	}
	if len(e.Text) == 0 {
		b.log.Debug("Ignoring entry without TXT data", "instance", e.Instance)
		return DiscoveredPeer{}, false
	}
	props, err := DecodeText(e.Text)
	if err != nil {
		b.log.Warn("Ignoring undecodable entry", "instance", e.Instance, "error", err)
		return DiscoveredPeer{}, false
	}
	addr := lowestIP(e.AddrIPv4)
	if addr == nil {
		addr = lowestIP(e.AddrIPv6)
	}
	return DiscoveredPeer{ServiceName: e.Instance, Properties: props, Address: addr}, true
}

// lowestIP picks one address independent of the order responses arrive in.
func lowestIP(ips []net.IP) net.IP {
	var best net.IP
	for _, ip := range ips {
		if best == nil || bytes.Compare(ip.To16(), best.To16()) < 0 {
			best = ip
		}
	}
	return best
}
