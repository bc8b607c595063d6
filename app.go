package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/udit2303/comp2/pkg/command"
	"github.com/udit2303/comp2/pkg/discovery"
	"github.com/udit2303/comp2/pkg/netconn"
	"github.com/udit2303/comp2/pkg/peerlog"
	"github.com/udit2303/comp2/pkg/util"
)

const stunTimeout = 3 * time.Second

type withdrawer interface {
	Withdraw()
}

type advertiser interface {
	Advertise(a discovery.Announcement) (withdrawer, error)
}

// lanAdvertiser publishes over mDNS.
type lanAdvertiser struct {
	ad *discovery.Advertiser
}

func (l lanAdvertiser) Advertise(a discovery.Announcement) (withdrawer, error) {
	h, err := l.ad.Advertise(a)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// app carries the per-invocation state the handlers share.
type app struct {
	cfg    Config
	log    *util.Logger
	stdin  io.Reader
	stdout io.Writer

	advertiser advertiser
	listen     func(port uint16) (*netconn.Server, error)
	dispatch   discovery.DispatchFunc
	events     func() discovery.EventSource
	localIPs   func() ([]net.IP, error)
	routeIP    func() (net.IP, error)
	publicAddr func(server string, timeout time.Duration) (net.IP, int, error)

	consoleOnce sync.Once
	console     *util.Console
}

func newApp(cfg Config, log *util.Logger, stdin io.Reader, stdout io.Writer) *app {
	a := &app{
		cfg:        cfg,
		log:        log,
		stdin:      stdin,
		stdout:     stdout,
		advertiser: lanAdvertiser{ad: discovery.NewAdvertiser(log)},
		localIPs:   util.GetLocalIPs,
		routeIP:    util.OutboundIP,
		publicAddr: util.GetPublicAddr,
	}
	a.listen = func(port uint16) (*netconn.Server, error) { return netconn.ListenPort(log, port) }
	a.events = func() discovery.EventSource { return discovery.NewBrowser(log, cfg.Refresh) }
	return a
}

func (a *app) handlers() command.Handlers {
	return command.Handlers{
		ServerSource: a.serverSource,
		ServerSink:   a.serverSink,
		ClientSource: a.clientSource,
		ClientSink:   a.clientSink,
		ShowConfig:   a.showConfig,
		Scan:         a.scan,
		NetInfo:      a.netInfo,
		History:      a.history,
	}
}

// input starts reading stdin on first use only, so commands that never prompt
// leave it untouched.
func (a *app) input() *util.Console {
	a.consoleOnce.Do(func() { a.console = util.NewConsole(a.stdin) })
	return a.console
}

func (a *app) surface(text string) {
	fmt.Fprintln(a.stdout, text)
}

func (a *app) serverSource(ctx context.Context, req command.Request) error {
	return a.advertise(ctx, req.Op, func(ctx context.Context, rw io.ReadWriter) error {
		return netconn.SendTicker(ctx, rw, a.cfg.Payload, a.cfg.Interval)
	})
}

func (a *app) serverSink(ctx context.Context, req command.Request) error {
	return a.advertise(ctx, req.Op, func(ctx context.Context, rw io.ReadWriter) error {
		return netconn.ReceiveText(rw, a.surface)
	})
}

// advertise binds the port, announces op on the LAN and serves clients until ctx
// ends. The announcement is withdrawn and the listener closed on every exit path.
func (a *app) advertise(ctx context.Context, op command.Operation, h netconn.Handler) error {
	srv, err := a.listen(op.Port)
	if err != nil {
		return err
	}
	defer srv.Close()

	handle, err := a.advertiser.Advertise(discovery.AnnouncementFor(op, a.announceIP()))
	if err != nil {
		return err
	}
	defer handle.Withdraw()

	return srv.Serve(ctx, h)
}

// announceIP picks the LAN address carried by the default route, falling back to
// the first local address. nil leaves the choice to the responder.
func (a *app) announceIP() net.IP {
	ips, err := a.localIPs()
	if err != nil {
		a.log.WithError(err).Warn("No LAN address to announce, relying on the responder")
		return nil
	}
	route, err := a.routeIP()
	if err != nil {
		a.log.Debug("No default route, announcing first address", "error", err)
	}
	return util.PreferredIP(ips, route)
}

func (a *app) clientSource(ctx context.Context, req command.Request) error {
	in := a.input()
	return netconn.Connect(ctx, a.log, a.cfg.Host, req.Op.Port, func(ctx context.Context, rw io.ReadWriter) error {
		return netconn.SendLines(ctx, rw, in)
	})
}

func (a *app) clientSink(ctx context.Context, req command.Request) error {
	return netconn.Connect(ctx, a.log, a.cfg.Host, req.Op.Port, func(ctx context.Context, rw io.ReadWriter) error {
		return netconn.ReceiveText(rw, a.surface)
	})
}

func (a *app) showConfig(_ context.Context, req command.Request) error {
	fmt.Fprintln(a.stdout, util.PrettyPrint(req.Tree))
	return nil
}

func (a *app) scan(ctx context.Context, _ command.Request) error {
	opts := discovery.ScannerOptions{
		Log:      a.log,
		Source:   a.events(),
		Dispatch: a.dispatch,
		Input:    a.input(),
		Output:   a.stdout,
	}
	if store := a.openHistory(); store != nil {
		defer store.Close()
		opts.Recorder = store
	}
	return discovery.NewScanner(opts).Run(ctx)
}

// openHistory opens the peer store for recording. Recording is best effort, so a
// failure only costs the history.
func (a *app) openHistory() *peerlog.Store {
	if a.cfg.NoHistory {
		return nil
	}
	store, err := peerlog.Open(a.historyPath())
	if err != nil {
		a.log.WithError(err).Warn("Peer history unavailable", "path", a.historyPath())
		return nil
	}
	return store
}

func (a *app) historyPath() string {
	return filepath.Join(a.cfg.DataDir, peerlog.FileName)
}

func (a *app) netInfo(_ context.Context, _ command.Request) error {
	ips, err := a.localIPs()
	if err != nil {
		a.log.WithError(err).Warn("Unable to list local addresses")
		fmt.Fprintln(a.stdout, "local   none")
	}
	for _, ip := range ips {
		fmt.Fprintf(a.stdout, "local   %s\n", ip)
	}

	ip, port, err := a.publicAddr(util.DefaultSTUNServer, stunTimeout)
	if err != nil {
		a.log.Warn("Unable to determine public address (STUN)", "server", util.DefaultSTUNServer, "error", err)
		fmt.Fprintln(a.stdout, "public  unknown")
		return nil
	}
	fmt.Fprintf(a.stdout, "public  %s\n", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	return nil
}

func (a *app) history(_ context.Context, _ command.Request) error {
	if a.cfg.NoHistory {
		fmt.Fprintln(a.stdout, "peer history is disabled")
		return nil
	}
	store, err := peerlog.Open(a.historyPath())
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List()
	if err != nil {
		return fmt.Errorf("read peer history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.stdout, "no peers seen yet")
		return nil
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tPROPERTIES\tSEEN\tLAST SEEN")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			e.ServiceName, e.Address, e.Properties, e.SeenCount,
			e.LastSeen.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
