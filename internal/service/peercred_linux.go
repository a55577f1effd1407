//go:build linux

package service

import (
	"fmt"
	"mmrl/pkg/protocol"
	"net"

	"golang.org/x/sys/unix"
)

// peerIdentity returns the kernel's view of who is on the other end of a
// unix socket. The client cannot forge it.
func peerIdentity(conn net.Conn) (*protocol.Identity, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("connection is not a unix socket")
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("get raw connection: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return nil, fmt.Errorf("raw control: %w", err)
	}
	if credErr != nil {
		return nil, fmt.Errorf("getsockopt SO_PEERCRED: %w", credErr)
	}
	return &protocol.Identity{UID: int(cred.Uid), GID: int(cred.Gid), PID: int(cred.Pid)}, nil
}
