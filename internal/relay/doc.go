// Package relay is the local SOCKS5 to Shadowsocks relay engine.
//
// A Relay accepts SOCKS5 clients on a local TCP port. Each connection is run
// through a small negotiation state machine (greeting, request) and then
// either streamed to the Shadowsocks server with AEAD framing (CONNECT) or
// held open as the lifetime anchor of a UDP association (UDP ASSOCIATE).
//
// UDP datagrams arrive on a socket bound to the same local address and port.
// Each client source address gets its own session: a dedicated socket to the
// server plus an inactivity deadline kept in a go-cache store. Sessions are
// independent, so a bad packet on one never disturbs another.
//
// Stop only raises a flag. A control ticker notices it, closes the listeners,
// tears down every connection and session, stops the plugin, and Start
// returns once every goroutine that owned a socket has exited.
package relay
