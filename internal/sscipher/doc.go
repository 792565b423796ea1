// Package sscipher holds the process-wide cipher environment and the
// per-direction contexts used to frame Shadowsocks traffic.
//
// Method lookup and key derivation come from go-shadowsocks2. The framing
// itself is done here so that the relay can drive it over its own buffers:
//
//	TCP: salt | [seal(len) seal(payload)]...
//	UDP: salt | seal(packet)
//
// An Env is immutable and may be shared by every connection of one relay. A
// Context is owned by a single connection direction.
package sscipher
