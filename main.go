package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/sslocal/internal/config"
	"github.com/die-net/sslocal/internal/relay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.CommandLine
	f := config.Default()
	var timeoutSecs int

	configPath := fs.StringP("config", "c", "", "YAML profile to load. Flags given on the command line override it.")
	fs.StringVarP(&f.RemoteHost, "server", "s", "", "Shadowsocks server host")
	fs.IntVarP(&f.RemotePort, "server-port", "p", 0, "Shadowsocks server port")
	fs.StringVarP(&f.LocalAddr, "local-address", "b", f.LocalAddr, "Local SOCKS5 bind address")
	fs.IntVarP(&f.LocalPort, "local-port", "l", 0, "Local SOCKS5 port. 0 picks a free port.")
	fs.StringVarP(&f.Password, "password", "k", "", "Password the key is derived from")
	fs.StringVarP(&f.Method, "method", "m", f.Method, "AEAD cipher: chacha20-ietf-poly1305 | aes-256-gcm | aes-128-gcm")
	fs.StringVar(&f.Key, "key", "", "Base64 pre-shared key, used instead of the password")
	fs.IntVarP(&timeoutSecs, "timeout", "t", int(config.DefaultTimeout/time.Second), "UDP session idle timeout in seconds")
	fs.BoolVarP(&f.UDP, "udp", "u", false, "Enable the UDP relay")
	fs.IntVar(&f.MTU, "mtu", f.MTU, "MTU bounding relayed UDP packet size. 0 uses the default packet size.")
	fs.StringVar(&f.Plugin, "plugin", "", "SIP003 plugin executable")
	fs.StringVar(&f.PluginOpts, "plugin-opts", "", "Options passed to the plugin")
	fs.BoolVarP(&f.IPv6First, "ipv6-first", "6", false, "Prefer IPv6 when resolving the server")
	fs.DurationVar(&f.DialTimeout, "dial-timeout", f.DialTimeout, "Timeout for connecting to the server")
	fs.DurationVar(&f.NegotiationTimeout, "negotiation-timeout", f.NegotiationTimeout, "Timeout for SOCKS5 negotiation to set up a connection")
	fs.StringVar(&f.TCPKeepAlive, "tcp-keepalive", f.TCPKeepAlive, "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	fs.BoolVarP(&f.Verbose, "verbose", "v", false, "Enable per-connection debug logging")
	debugListen := fs.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")

	fs.SortFlags = false
	pflag.Parse()

	p, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	f.Timeout = time.Duration(timeoutSecs) * time.Second
	overrideFromFlags(fs, p, f)

	logger, err := newLogger(p.Verbose)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	r, err := relay.New(p, logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *debugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{}
		debugLn, err := lc.Listen(ctx, "tcp", *debugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		logger.Info("debug listening", zap.String("addr", *debugListen))
	}

	g.Go(func() error {
		defer stop()
		return r.Start(ctx)
	})

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

// overrideFromFlags copies every flag set on the command line from f into p.
func overrideFromFlags(fs *pflag.FlagSet, p, f *config.Profile) {
	apply := map[string]func(){
		"server":              func() { p.RemoteHost = f.RemoteHost },
		"server-port":         func() { p.RemotePort = f.RemotePort },
		"local-address":       func() { p.LocalAddr = f.LocalAddr },
		"local-port":          func() { p.LocalPort = f.LocalPort },
		"password":            func() { p.Password = f.Password },
		"method":              func() { p.Method = f.Method },
		"key":                 func() { p.Key = f.Key },
		"timeout":             func() { p.Timeout = f.Timeout },
		"udp":                 func() { p.UDP = f.UDP },
		"mtu":                 func() { p.MTU = f.MTU },
		"plugin":              func() { p.Plugin = f.Plugin },
		"plugin-opts":         func() { p.PluginOpts = f.PluginOpts },
		"ipv6-first":          func() { p.IPv6First = f.IPv6First },
		"dial-timeout":        func() { p.DialTimeout = f.DialTimeout },
		"negotiation-timeout": func() { p.NegotiationTimeout = f.NegotiationTimeout },
		"tcp-keepalive":       func() { p.TCPKeepAlive = f.TCPKeepAlive },
		"verbose":             func() { p.Verbose = f.Verbose },
	}
	fs.Visit(func(fl *pflag.Flag) {
		if set, ok := apply[fl.Name]; ok {
			set()
		}
	})
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Sampling = nil
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
