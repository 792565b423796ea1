package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMethod             = "chacha20-ietf-poly1305"
	DefaultLocalAddr          = "0.0.0.0"
	DefaultTimeout            = 60 * time.Second
	DefaultMTU                = 1500
	DefaultDialTimeout        = 10 * time.Second
	DefaultNegotiationTimeout = 10 * time.Second
	DefaultTCPKeepAlive       = "45:45:3"

	// PacketHeaderSize is reserved out of the MTU for IP, UDP, and
	// Shadowsocks framing.
	PacketHeaderSize = 95

	// DefaultPacketSize applies when no MTU is set.
	DefaultPacketSize = 1397
)

// Profile configures one relay instance.
type Profile struct {
	RemoteHost string `yaml:"server"`
	RemotePort int    `yaml:"server_port"`
	LocalAddr  string `yaml:"local_address"`
	LocalPort  int    `yaml:"local_port"`

	Password string `yaml:"password"`
	Method   string `yaml:"method"`
	Key      string `yaml:"key"`

	// Timeout is the UDP session inactivity timeout.
	Timeout time.Duration `yaml:"timeout"`
	UDP     bool          `yaml:"udp"`
	MTU     int           `yaml:"mtu"`

	Plugin     string `yaml:"plugin"`
	PluginOpts string `yaml:"plugin_opts"`

	Verbose   bool `yaml:"verbose"`
	IPv6First bool `yaml:"ipv6_first"`

	DialTimeout        time.Duration `yaml:"dial_timeout"`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	TCPKeepAlive       string        `yaml:"tcp_keepalive"`
}

func Default() *Profile {
	return &Profile{
		LocalAddr:          DefaultLocalAddr,
		Method:             DefaultMethod,
		Timeout:            DefaultTimeout,
		MTU:                DefaultMTU,
		DialTimeout:        DefaultDialTimeout,
		NegotiationTimeout: DefaultNegotiationTimeout,
		TCPKeepAlive:       DefaultTCPKeepAlive,
	}
}

// Load reads a YAML profile on top of Default. An empty path returns Default.
// Durations are Go duration strings such as "90s", or bare integers counting
// seconds.
func Load(path string) (*Profile, error) {
	p := Default()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return p, nil
}

// durationKeys are the Profile fields decoded as time.Duration.
var durationKeys = map[string]bool{
	"timeout":             true,
	"dial_timeout":        true,
	"negotiation_timeout": true,
}

// UnmarshalYAML decodes a profile, reading integer durations as seconds.
func (p *Profile) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			if durationKeys[k.Value] && v.Kind == yaml.ScalarNode && v.ShortTag() == "!!int" {
				v.Value += "s"
				v.Tag = "!!str"
			}
		}
	}

	type plain Profile
	return node.Decode((*plain)(p))
}

// Validate checks required fields and fills zero values with defaults.
func (p *Profile) Validate() error {
	if p.RemoteHost == "" {
		return errors.New("server address is required")
	}
	if p.RemotePort <= 0 || p.RemotePort > 65535 {
		return fmt.Errorf("invalid server port %d", p.RemotePort)
	}
	if p.LocalPort < 0 || p.LocalPort > 65535 {
		return fmt.Errorf("invalid local port %d", p.LocalPort)
	}
	if p.Password == "" && p.Key == "" {
		return errors.New("password or key is required")
	}
	if p.MTU < 0 || (p.MTU > 0 && p.MTU <= PacketHeaderSize) {
		return fmt.Errorf("invalid mtu %d", p.MTU)
	}

	if p.LocalAddr == "" {
		p.LocalAddr = DefaultLocalAddr
	}
	if p.Method == "" {
		p.Method = DefaultMethod
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.DialTimeout <= 0 {
		p.DialTimeout = DefaultDialTimeout
	}
	if p.NegotiationTimeout <= 0 {
		p.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if p.TCPKeepAlive == "" {
		p.TCPKeepAlive = DefaultTCPKeepAlive
	}
	if _, err := ParseTCPKeepAlive(p.TCPKeepAlive); err != nil {
		return fmt.Errorf("invalid tcp keepalive: %w", err)
	}

	return nil
}

// LocalEndpoint is the host:port the SOCKS5 listener binds.
func (p *Profile) LocalEndpoint() string {
	return net.JoinHostPort(p.LocalAddr, strconv.Itoa(p.LocalPort))
}

// PacketSize is the largest UDP payload relayed in either direction.
func (p *Profile) PacketSize() int {
	if p.MTU > 0 {
		return p.MTU - PacketHeaderSize
	}
	return DefaultPacketSize
}

// ParseTCPKeepAlive accepts on, off, or keepidle:keepintvl:keepcnt with the
// first two in seconds.
func ParseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveInt(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveInt(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(keepIdle) * time.Second,
		Interval: time.Duration(keepIntvl) * time.Second,
		Count:    keepCnt,
	}, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
