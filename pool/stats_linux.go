// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package pool

import (
	"net"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// connStats reads TCP_INFO straight off conn's raw file descriptor, the
// same technique go-tcpinfo uses in runZeroInc-sockstats — minus that
// repo's kernel-version struct-size detection, judged disproportionate for
// a client library that only needs RTT/retransmit counts for its metrics
// snapshot (see DESIGN.md).
type connStats struct {
	RTTMicros       uint32
	RetransmitCount uint32
}

// probeTCPInfo returns the current TCP_INFO-derived stats for conn, or
// ok == false if conn is not a TCP socket or the getsockopt call failed
// (e.g. a Unix-domain socket, where TCP_INFO is meaningless).
func probeTCPInfo(conn net.Conn) (connStats, bool) {
	if _, ok := conn.(*net.TCPConn); !ok {
		return connStats{}, false
	}
	fd := netfd.GetFdFromConn(conn)
	if fd < 0 {
		return connStats{}, false
	}
	info, err := unix.GetsockoptTCPInfo(fd, unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return connStats{}, false
	}
	return connStats{
		RTTMicros:       info.Rtt,
		RetransmitCount: uint32(info.Retransmits),
	}, true
}
