//go:build !linux

package service

import (
	"errors"
	"mmrl/pkg/protocol"
	"net"
)

func peerIdentity(conn net.Conn) (*protocol.Identity, error) {
	return nil, errors.New("peer credentials are not available on this platform")
}
