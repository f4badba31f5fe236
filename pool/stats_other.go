// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !linux

package pool

import "net"

// connStats mirrors stats_linux.go's shape on platforms without TCP_INFO
// (e.g. darwin, windows); probeTCPInfo always reports ok == false there, so
// the metrics snapshot carries no TCP_INFO stats.
type connStats struct {
	RTTMicros       uint32
	RetransmitCount uint32
}

func probeTCPInfo(net.Conn) (connStats, bool) { return connStats{}, false }
