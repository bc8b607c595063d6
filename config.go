package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/udit2303/comp2/pkg/command"
	"github.com/udit2303/comp2/pkg/discovery"
	"github.com/udit2303/comp2/pkg/netconn"
)

const dataDirEnv = "COMP2_DATA_DIR"

// Config is everything a single invocation needs.
type Config struct {
	Debug     bool
	Port      uint16
	Host      string
	Interval  time.Duration
	Payload   string
	Refresh   time.Duration
	DataDir   string
	NoHistory bool

	// Path is the command path left after the flags, e.g. ["advertise", "text", "sink"].
	Path []string
}

// defaultDataDir prefers $COMP2_DATA_DIR, then os.UserConfigDir, then the working directory.
func defaultDataDir() string {
	if dir := os.Getenv(dataDirEnv); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "comp2")
	}
	return ".comp2"
}

func parseFlags(args []string, stderr io.Writer) (Config, error) {
	var (
		cfg  Config
		port uint
	)
	fs := flag.NewFlagSet("comp2", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: comp2 [flags] <command path>\n\n")
		fmt.Fprintf(fs.Output(), "commands: show_config | scan | netinfo | history |\n")
		fmt.Fprintf(fs.Output(), "          advertise <content> <direction> | interact <content> <direction>\n\n")
		fs.PrintDefaults()
	}

	fs.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	fs.UintVar(&port, "port", command.DefaultTextPort, "TCP port for text sessions")
	fs.StringVar(&cfg.Host, "host", "localhost", "Host an interact session connects to")
	fs.DurationVar(&cfg.Interval, "interval", netconn.DefaultInterval, "Delay between lines sent by an advertised source")
	fs.StringVar(&cfg.Payload, "payload", netconn.DefaultPayload, "Line sent by an advertised source")
	fs.DurationVar(&cfg.Refresh, "refresh", discovery.DefaultRefresh, "Length of one discovery round while scanning")
	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir(), "Directory holding the peer history")
	fs.BoolVar(&cfg.NoHistory, "no-history", false, "Do not record or read peer history")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if port == 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid -port %d: must be between 1 and 65535", port)
	}
	if cfg.Interval <= 0 {
		return Config{}, errors.New("-interval must be positive")
	}
	if cfg.Refresh <= 0 {
		return Config{}, errors.New("-refresh must be positive")
	}
	if cfg.Host == "" {
		return Config{}, errors.New("-host must not be empty")
	}
	cfg.Port = uint16(port)
	cfg.Path = fs.Args()
	return cfg, nil
}
