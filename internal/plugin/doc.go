// Package plugin runs a SIP003 obfuscation plugin next to the relay.
//
// The plugin is told where the real Shadowsocks server is and which local
// port to listen on through SS_REMOTE_HOST, SS_REMOTE_PORT, SS_LOCAL_HOST, and
// SS_LOCAL_PORT, plus the opaque SS_PLUGIN_OPTIONS string. The relay then
// dials the plugin's local port instead of the server for TCP. UDP always goes
// straight to the server.
//
// The working directory is appended to the plugin's PATH so a plugin binary
// shipped next to the relay is found. The plugin's output is discarded.
package plugin
