package socks5

import (
	"errors"
	"fmt"

	txsocks5 "github.com/txthinking/socks5"
)

var (
	ErrShortDatagram = errors.New("short datagram")
	ErrFragmented    = errors.New("fragmented datagram")
)

// datagramHeaderLen covers RSV RSV FRAG.
const datagramHeaderLen = 3

// SplitDatagram validates a client UDP request and returns its destination and
// the ATYP ADDR PORT DATA tail. Both alias b.
func SplitDatagram(b []byte) (Addr, []byte, error) {
	if len(b) < datagramHeaderLen+1 {
		return nil, nil, ErrShortDatagram
	}
	if b[2] != 0x00 {
		return nil, nil, fmt.Errorf("%w: frag %d", ErrFragmented, b[2])
	}
	tail := b[datagramHeaderLen:]
	addr, err := ParseAddr(tail)
	if err != nil {
		return nil, nil, err
	}
	return addr, tail, nil
}

// EncodeDatagram wraps data for addr in a SOCKS5 UDP header.
func EncodeDatagram(addr Addr, data []byte) []byte {
	return txsocks5.NewDatagram(addr.Type(), addr.Host(), addr.PortBytes(), data).Bytes()
}

// ResponseDatagram wraps a decrypted Shadowsocks payload (ATYP ADDR PORT DATA)
// for delivery to the client. The payload's own address header is kept.
func ResponseDatagram(payload []byte) ([]byte, error) {
	addr, err := ParseAddr(payload)
	if err != nil {
		return nil, err
	}
	return EncodeDatagram(addr, payload[len(addr):]), nil
}
