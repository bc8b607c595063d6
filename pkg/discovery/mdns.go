package discovery

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/grandcat/zeroconf"
	"golang.org/x/crypto/blake2b"

	"github.com/udit2303/comp2/pkg/util"
)

// maxLabel is the DNS label limit an instance name must fit in.
const maxLabel = 63

// InstanceName derives the mDNS instance name for an announcement on host.
// The digest keeps names distinct when hosts share a prefix after truncation.
func InstanceName(host string, a Announcement) string {
	sum := blake2b.Sum256([]byte(host + "\x00" + strings.Join(a.Text(), "\x00")))
	suffix := fmt.Sprintf("-%s-%s-%s", a.Content, a.Direction, hex.EncodeToString(sum[:4]))
	host = strings.TrimSuffix(host, ".local")
	if room := maxLabel - len(suffix); len(host) > room {
		if room < 0 {
			room = 0
		}
		for room > 0 && !utf8.RuneStart(host[room]) {
			room--
		}
		host = host[:room]
	}
	return host + suffix
}

type shutdowner interface {
	Shutdown()
}

type registerFunc func(instance, host string, a Announcement) (shutdowner, error)

// zeroconfRegister publishes on every interface, or only for a.Address when it is set.
func zeroconfRegister(instance, host string, a Announcement) (shutdowner, error) {
	if a.Address == nil {
		return zeroconf.Register(instance, ServiceType, Domain, int(a.Port), a.Text(), nil)
	}
	return zeroconf.RegisterProxy(instance, ServiceType, Domain, int(a.Port), host,
		[]string{a.Address.String()}, a.Text(), nil)
}

// Advertiser publishes announcements on the LAN.
type Advertiser struct {
	log      *util.Logger
	host     string
	register registerFunc
}

func NewAdvertiser(log *util.Logger) *Advertiser {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "comp2"
	}
	return &Advertiser{log: log, host: host, register: zeroconfRegister}
}

// Advertise registers a. The caller must Withdraw the returned handle.
func (ad *Advertiser) Advertise(a Announcement) (*Handle, error) {
	instance := InstanceName(ad.host, a)
	server, err := ad.register(instance, ad.host, a)
	if err != nil {
		return nil, &AnnouncementError{Op: "register", Instance: instance, Err: err}
	}
	ad.log.Info("Announcing service",
		"service", ServiceType,
		"instance", instance,
		"content", a.Content,
		"direction", a.Direction.String(),
		"port", a.Port)
	return &Handle{instance: instance, server: server, log: ad.log}, nil
}

// Handle is a live announcement.
type Handle struct {
	instance string
	server   shutdowner
	log      *util.Logger
	once     sync.Once
}

func (h *Handle) Instance() string { return h.instance }

// Withdraw removes the announcement. Only the first call does anything.
func (h *Handle) Withdraw() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.server.Shutdown()
		h.log.Info("Withdrew service", "instance", h.instance)
	})
}

type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// zeroconfBrowse starts one browse; the resolver stops when ctx ends.
func zeroconfBrowse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(zeroconf.SelectIPTraffic(zeroconf.IPv4))
	if err != nil {
		return fmt.Errorf("failed to initialize resolver: %w", err)
	}
	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return fmt.Errorf("failed to browse: %w", err)
	}
	return nil
}
