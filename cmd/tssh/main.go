// Package main provides the CLI entry point for tssh.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/coinstash/tssh/internal/client"
	"github.com/coinstash/tssh/internal/config"
	"github.com/coinstash/tssh/internal/logging"
	"github.com/coinstash/tssh/internal/metrics"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	exitCode := 0

	rootCmd := &cobra.Command{
		Use:           "tssh [user@]host[:port]",
		Short:         "A minimal SSH-2 client",
		Version:       Version,
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := run(cmd, args)
			exitCode = code
			return err
		},
	}

	rootCmd.Flags().StringP("config", "c", "", "path to a YAML config file")
	rootCmd.Flags().String("metrics-addr", "", "address to serve Prometheus metrics on (overrides config)")
	rootCmd.Flags().String("log-level", "", "log level: debug, info, warn, error (overrides config)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

// run dials, authenticates, and drives the interactive shell,
// returning the remote exit status alongside any error (spec.md
// section 7: exit code 1 with a diagnostic on any core error, the
// remote command's own status on a clean disconnect).
func run(cmd *cobra.Command, args []string) (int, error) {
	configPath, _ := cmd.Flags().GetString("config")
	metricsAddrFlag, _ := cmd.Flags().GetString("metrics-addr")
	logLevelFlag, _ := cmd.Flags().GetString("log-level")

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return 1, err
		}
		cfg = loaded
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	if metricsAddrFlag != "" {
		cfg.MetricsAddr = metricsAddrFlag
	}

	log := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

	user, host, port, err := splitTarget(args[0], cfg)
	if err != nil {
		return 1, err
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	reg := metrics.NewRegistry()
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", logging.KeyError, err)
			}
		}()
		log.Info("serving metrics", logging.KeyAddress, cfg.MetricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	c, err := client.Dial(ctx, addr, client.Options{
		ConnectTimeout:   cfg.ConnectTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		TerminalType:     cfg.TerminalType,
		Logger:           log,
		Metrics:          reg.Metrics,
	})
	if err != nil {
		return 1, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer c.Close()

	prompt := func(string) (string, error) {
		fmt.Fprintf(os.Stderr, "%s@%s's password: ", user, host)
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}

	if err := c.Authenticate(user, prompt, func(text string) {
		fmt.Fprint(os.Stderr, text)
	}); err != nil {
		return 1, fmt.Errorf("authenticate: %w", err)
	}

	status, shellErr := c.RunShell(ctx, os.Stdin, os.Stdout, os.Stderr)

	if tx, rx := reg.ChannelByteTotals(); tx+rx > 0 {
		log.Info("session summary",
			"bytes_sent", humanize.Bytes(uint64(tx)),
			"bytes_received", humanize.Bytes(uint64(rx)))
	}

	if shellErr != nil {
		return 1, fmt.Errorf("shell: %w", shellErr)
	}
	return status, nil
}

// splitTarget parses "[user@]host[:port]" the way the original
// source's parse_args does: at most one "@", falling back to the
// resolved host alias's user / cfg.DefaultUser / the OS user in that
// order, and to the alias's port, then port 22, when none is given.
func splitTarget(target string, cfg *config.Config) (user, host string, port int, err error) {
	parts := strings.Split(target, "@")
	switch len(parts) {
	case 1:
		host = parts[0]
	case 2:
		user = parts[0]
		host = parts[1]
	default:
		return "", "", 0, fmt.Errorf("invalid target %q: at most one \"@\" allowed", target)
	}

	port = 22
	if h, p, ok := strings.Cut(host, ":"); ok {
		host = h
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", "", 0, fmt.Errorf("invalid port %q", p)
		}
		port = n
	}

	if hc, ok := cfg.Lookup(host); ok {
		host = hc.Hostname
		if port == 22 && hc.Port != 0 {
			port = hc.Port
		}
		if user == "" {
			user = hc.User
		}
	}

	if user == "" {
		user = cfg.DefaultUser
	}
	if user == "" {
		if osUser, err := osUserCurrent(); err == nil {
			user = osUser
		}
	}
	if user == "" {
		return "", "", 0, fmt.Errorf("no user given and none could be determined")
	}
	return user, host, port, nil
}

// osUserCurrent is a var so tests can stub it without a real passwd lookup.
var osUserCurrent = func() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.Username, nil
}
