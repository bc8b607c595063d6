package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/udit2303/comp2/pkg/command"
	"github.com/udit2303/comp2/pkg/util"
)

func main() {
	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())

	// Handle OS signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// run executes one invocation and returns its exit status.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}

	level := util.InfoLevel
	if cfg.Debug {
		level = util.DebugLevel
	}
	log := util.NewLogger(stderr, level)

	err = newApp(cfg, log, stdin, stdout).run(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		log.Info("Shutting down...")
		return 0
	case errors.Is(err, command.ErrUnknownKey), errors.Is(err, command.ErrIncompleteTraversal):
		fmt.Fprintln(stderr, err)
		return 1
	default:
		log.WithError(err).Error("Command failed")
		return 1
	}
}

// run resolves the configured command path and blocks until the command finishes.
func (a *app) run(ctx context.Context) error {
	tree := command.DefaultTree(map[string]uint16{command.ContentText: a.cfg.Port})
	if err := tree.CheckPairing(); err != nil {
		return err
	}
	d := command.NewDispatcher(tree, a.handlers())
	a.dispatch = d.Dispatch

	a.log.Debug("Starting comp2", "path", a.cfg.Path, "port", a.cfg.Port)
	return d.Dispatch(ctx, a.cfg.Path)
}
