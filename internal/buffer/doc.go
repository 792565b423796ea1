// Package buffer implements the growable byte container that sits under every
// read, parse, and cipher step of the relay.
//
// A Buffer is owned by exactly one connection direction or UDP session and is
// never shared between goroutines. Appending grows the backing array instead
// of dropping bytes, so a peer that writes faster than the relay forwards can
// only cost memory, never data.
//
// Encrypt and Decrypt hand the live region to a cipher context and replace the
// contents with the result. The cipher owns any partial frame it has not yet
// been able to open.
package buffer
