package relay

import (
	"sync/atomic"
)

// Stats is a snapshot of a relay's traffic counters. Tx counts bytes sent to
// the server and Rx bytes received from it, both after encryption.
type Stats struct {
	TxBytes  int64
	RxBytes  int64
	Conns    int
	Sessions int
}

type counters struct {
	tx atomic.Int64
	rx atomic.Int64
}

func (c *counters) addTx(n int) {
	if n > 0 {
		c.tx.Add(int64(n))
	}
}

func (c *counters) addRx(n int) {
	if n > 0 {
		c.rx.Add(int64(n))
	}
}
