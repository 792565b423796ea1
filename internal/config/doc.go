// Package config defines the relay profile: the Shadowsocks server, the local
// SOCKS5 endpoint, and the tuning knobs that apply to one relay instance.
//
// A Profile can be built from flags, loaded from a YAML file, or both. Load
// starts from Default, so a file only needs the keys it changes.
package config
