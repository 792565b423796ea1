// Package socks5 provides the SOCKS5 wire pieces shared by the relay and its
// tests.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5 to keep
// address parsing, reply writing, and UDP datagram framing in one place. The
// address form used here (ATYP ADDR PORT) is also the header Shadowsocks puts
// in front of every stream and packet, so Addr values flow unchanged from the
// SOCKS5 request into the encrypted payload.
//
// Only the no-auth method and the CONNECT and UDP ASSOCIATE commands are
// served.
package socks5
