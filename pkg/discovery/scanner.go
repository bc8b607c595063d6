package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/udit2303/comp2/pkg/util"
)

// DispatchFunc resolves and activates a command path.
type DispatchFunc func(ctx context.Context, keys []string) error

// LineReader supplies operator input.
type LineReader interface {
	ReadLine(ctx context.Context) (string, error)
}

// PeerRecorder persists discovered peers.
type PeerRecorder interface {
	Record(peer DiscoveredPeer) error
}

type ScannerOptions struct {
	Log      *util.Logger
	Source   EventSource
	Dispatch DispatchFunc
	Input    LineReader
	Output   io.Writer
	Recorder PeerRecorder // optional
}

// Scanner collects announcements and lets the operator pair with one of them.
type Scanner struct {
	log        *util.Logger
	source     EventSource
	dispatch   DispatchFunc
	in         LineReader
	recorder   PeerRecorder
	candidates CandidateList

	outMu sync.Mutex
	out   io.Writer
}

func NewScanner(opts ScannerOptions) *Scanner {
	return &Scanner{
		log:      opts.Log,
		source:   opts.Source,
		dispatch: opts.Dispatch,
		in:       opts.Input,
		out:      opts.Output,
		recorder: opts.Recorder,
	}
}

func (s *Scanner) Candidates() *CandidateList { return &s.candidates }

// Run browses and serves the prompt until the operator quits, input ends, browsing
// fails or ctx is cancelled. Browsing is stopped before Run returns.
func (s *Scanner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	browseErr := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.source.Run(ctx, s); err != nil {
			browseErr <- err
			cancel()
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
		s.log.Info("Discovery session closed", "service", ServiceType, "candidates", s.candidates.Len())
	}()

	s.log.Info("Scanning for services", "service", ServiceType+"."+Domain)
	s.printf("Press enter to list candidates, a number to connect, q to quit.\n")

	for {
		line, err := s.in.ReadLine(ctx)
		if err != nil {
			select {
			case berr := <-browseErr:
				return berr
			default:
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch line = strings.TrimSpace(line); line {
		case "":
			s.printCandidates()
		case "q", "quit":
			return nil
		default:
			if err := s.selectCandidate(ctx, line); err != nil {
				if ctx.Err() != nil {
					continue // next ReadLine reports why
				}
				s.log.Warn("Selection failed", "input", line, "error", err)
				s.printf("error: %v\n", err)
			}
		}
	}
}

func (s *Scanner) selectCandidate(ctx context.Context, input string) error {
	idx, err := strconv.Atoi(input)
	if err != nil {
		return &InvalidSelectionError{Input: input, Count: s.candidates.Len()}
	}
	peer, ok := s.candidates.Get(idx)
	if !ok {
		return &InvalidSelectionError{Input: input, Count: s.candidates.Len()}
	}
	a, err := peer.Announcement()
	if err != nil {
		return err
	}
	path := a.ComplementaryPath()
	s.log.Info("Pairing with peer", "peer", peer.ServiceName, "path", strings.Join(path, " "))
	return s.dispatch(ctx, path)
}

func (s *Scanner) printCandidates() {
	peers := s.candidates.Snapshot()
	if len(peers) == 0 {
		s.printf("no candidates yet\n")
		return
	}
	for i, p := range peers {
		s.printf("[%d] %s\n", i, p)
	}
}

func (s *Scanner) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *Scanner) OnAdd(peer DiscoveredPeer) {
	idx := s.candidates.Append(peer)
	s.log.Debug("Service added", "instance", peer.ServiceName, "index", idx)
	s.printf("+ [%d] %s\n", idx, peer)
	if s.recorder != nil {
		if err := s.recorder.Record(peer); err != nil {
			s.log.Warn("Failed to record peer", "instance", peer.ServiceName, "error", err)
		}
	}
}

func (s *Scanner) OnUpdate(peer DiscoveredPeer) {
	s.log.Info("Service updated", "instance", peer.ServiceName, "properties", peer.Properties.String())
	s.printf("~ %s\n", peer)
}

func (s *Scanner) OnRemove(serviceName string) {
	s.log.Info("Service removed", "instance", serviceName)
	s.printf("- %s\n", serviceName)
}
