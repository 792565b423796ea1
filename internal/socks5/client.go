package socks5

import (
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// ClientDial negotiates no-auth and issues CONNECT for address.
func ClientDial(conn net.Conn, address string) error {
	if err := ClientNegotiate(conn); err != nil {
		return err
	}
	return ClientConnect(conn, address)
}

func ClientNegotiate(conn net.Conn) error {
	if _, err := txsocks5.NewNegotiationRequest([]byte{txsocks5.MethodNone}).WriteTo(conn); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read negotiation: %w", err)
	}
	if neg.Method != txsocks5.MethodNone {
		return fmt.Errorf("unsupported negotiation method: %d", neg.Method)
	}
	return nil
}

func ClientConnect(conn net.Conn, address string) error {
	rep, err := clientRequest(conn, txsocks5.CmdConnect, address)
	if err != nil {
		return err
	}
	if rep.Rep != txsocks5.RepSuccess {
		return fmt.Errorf("connect failed: reply %d", rep.Rep)
	}
	return nil
}

// ClientUDPAssociate issues UDP ASSOCIATE and returns the relay address the
// client should send datagrams to.
func ClientUDPAssociate(conn net.Conn) (*net.UDPAddr, error) {
	rep, err := clientRequest(conn, txsocks5.CmdUDP, "0.0.0.0:0")
	if err != nil {
		return nil, err
	}
	if rep.Rep != txsocks5.RepSuccess {
		return nil, fmt.Errorf("udp associate failed: reply %d", rep.Rep)
	}
	if rep.Atyp != txsocks5.ATYPIPv4 {
		return nil, fmt.Errorf("unexpected bound address type %d", rep.Atyp)
	}
	port := int(rep.BndPort[0])<<8 | int(rep.BndPort[1])
	return &net.UDPAddr{IP: net.IP(rep.BndAddr), Port: port}, nil
}

func clientRequest(conn net.Conn, cmd byte, address string) (*txsocks5.Reply, error) {
	atyp, dstAddr, dstPort, err := txsocks5.ParseAddress(address)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	if atyp == txsocks5.ATYPDomain {
		dstAddr = dstAddr[1:]
	}

	if _, err := txsocks5.NewRequest(cmd, atyp, dstAddr, dstPort).WriteTo(conn); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	return rep, nil
}
