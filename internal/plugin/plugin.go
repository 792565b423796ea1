package plugin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// StopTimeout is how long a plugin gets to exit after SIGTERM before it is
// killed.
const StopTimeout = 2 * time.Second

type Config struct {
	Path    string
	Options string

	RemoteHost string
	RemotePort int

	// LocalHost is where the plugin listens. Its port is picked by Start.
	LocalHost string
}

// Plugin is a running plugin process.
type Plugin struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	host   string
	port   int
	done   chan struct{}
	err    error
	logger *zap.Logger
}

// Start picks a free local port and launches the plugin. The plugin is stopped
// when ctx is done or Stop is called.
func Start(ctx context.Context, cfg Config, logger *zap.Logger) (*Plugin, error) {
	if cfg.Path == "" {
		return nil, errors.New("plugin path is empty")
	}

	port, err := FreePort(cfg.LocalHost)
	if err != nil {
		return nil, err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getwd: %w", err)
	}
	path := os.Getenv("PATH") + string(os.PathListSeparator) + cwd

	bin, err := lookPath(cfg.Path, path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, bin)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Env = append(os.Environ(),
		"SS_REMOTE_HOST="+cfg.RemoteHost,
		"SS_REMOTE_PORT="+strconv.Itoa(cfg.RemotePort),
		"SS_LOCAL_HOST="+cfg.LocalHost,
		"SS_LOCAL_PORT="+strconv.Itoa(port),
		"PATH="+path,
	)
	if cfg.Options != "" {
		cmd.Env = append(cmd.Env, "SS_PLUGIN_OPTIONS="+cfg.Options)
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = StopTimeout

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start plugin %s: %w", cfg.Path, err)
	}

	p := &Plugin{
		cmd:    cmd,
		cancel: cancel,
		host:   cfg.LocalHost,
		port:   port,
		done:   make(chan struct{}),
		logger: logger,
	}
	go p.monitor()

	logger.Info("plugin started", zap.String("plugin", cfg.Path), zap.Int("port", port), zap.Int("pid", cmd.Process.Pid))
	return p, nil
}

func (p *Plugin) monitor() {
	p.err = p.cmd.Wait()
	if p.err != nil {
		p.logger.Info("plugin exited", zap.Error(p.err))
	} else {
		p.logger.Info("plugin exited")
	}
	close(p.done)
}

// Endpoint is the address the relay dials instead of the server.
func (p *Plugin) Endpoint() string {
	return net.JoinHostPort(dialHost(p.host), strconv.Itoa(p.port))
}

func (p *Plugin) Port() int { return p.port }

// Done is closed once the process has exited.
func (p *Plugin) Done() <-chan struct{} { return p.done }

// Err returns the process exit error. It is only valid after Done is closed.
func (p *Plugin) Err() error { return p.err }

// Stop sends SIGTERM, escalating to a kill after StopTimeout, and waits for
// the process to exit.
func (p *Plugin) Stop() {
	p.cancel()
	<-p.done
}

// FreePort returns a TCP port on host that was free a moment ago.
func FreePort(host string) (int, error) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("pick plugin port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// lookPath resolves name against path rather than the relay's own PATH.
func lookPath(name, path string) (string, error) {
	if strings.ContainsRune(name, filepath.Separator) {
		return name, nil
	}
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() && fi.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("plugin %q: %w", name, exec.ErrNotFound)
}

func dialHost(host string) string {
	ip := net.ParseIP(host)
	switch {
	case host == "":
		return "127.0.0.1"
	case ip != nil && ip.IsUnspecified() && ip.To4() != nil:
		return "127.0.0.1"
	case ip != nil && ip.IsUnspecified():
		return "::1"
	default:
		return host
	}
}
