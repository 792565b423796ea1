// Package dialer resolves the Shadowsocks server address and opens outbound
// TCP connections to it.
//
// Resolution happens once at startup and honors an IPv4-first or IPv6-first
// preference. Dialed connections get TCP_NODELAY and the configured
// keepalive.
package dialer
