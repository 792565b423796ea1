package socks5

import (
	"fmt"
	"io"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// WriteMethodReply selects the no-auth method.
func WriteMethodReply(w io.Writer) error {
	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(w); err != nil {
		return fmt.Errorf("negotiation reply: %w", err)
	}
	return nil
}

// WriteCommandNotSupportedReply writes a SOCKS5 reply indicating that the
// requested command is not supported.
func WriteCommandNotSupportedReply(w io.Writer) {
	_, _ = newZeroAddrReply(txsocks5.RepCommandNotSupported).WriteTo(w)
}

// WriteConnectionRefusedReply writes a SOCKS5 reply indicating that the
// destination connection was refused.
func WriteConnectionRefusedReply(w io.Writer) {
	_, _ = newZeroAddrReply(txsocks5.RepConnectionRefused).WriteTo(w)
}

// WriteConnectSuccessReply writes the fixed CONNECT success reply. The bound
// address is always reported as 0.0.0.0:0.
func WriteConnectSuccessReply(w io.Writer) error {
	if _, err := newZeroAddrReply(txsocks5.RepSuccess).WriteTo(w); err != nil {
		return fmt.Errorf("success reply: %w", err)
	}
	return nil
}

// WriteUDPAssociateReply reports where the client should send datagrams. Only
// IPv4 is reported; any other local address becomes 0.0.0.0 with the same
// port.
func WriteUDPAssociateReply(w io.Writer, ip net.IP, port int) error {
	ip4 := ip.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	p := []byte{byte(port >> 8), byte(port)}
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, txsocks5.ATYPIPv4, []byte(ip4), p).WriteTo(w); err != nil {
		return fmt.Errorf("udp associate reply: %w", err)
	}
	return nil
}

func newZeroAddrReply(rep byte) *txsocks5.Reply {
	return txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
}
