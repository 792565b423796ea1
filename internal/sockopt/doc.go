// Package sockopt opens UDP sockets with the options the relay needs:
// SO_REUSEADDR on the client-facing socket, and the DSCP mark on the sockets
// that talk to the Shadowsocks server.
//
// On Linux, macOS, and the BSDs the options are set through x/sys/unix before
// bind. Elsewhere they are ignored and the sockets are opened plain.
package sockopt
