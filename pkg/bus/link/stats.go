package link

import "sync/atomic"

// Stats counts transactions on a link.
type Stats struct {
	Transactions atomic.Uint64
	Sent         atomic.Uint64
	Received     atomic.Uint64
	Invalid      atomic.Uint64
	Timeouts     atomic.Uint64
	Refused      atomic.Uint64
}

// StatsSnapshot is a copy of Stats.
type StatsSnapshot struct {
	Transactions uint64
	Sent         uint64
	Received     uint64
	Invalid      uint64
	Timeouts     uint64
	Refused      uint64
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Transactions: s.Transactions.Load(),
		Sent:         s.Sent.Load(),
		Received:     s.Received.Load(),
		Invalid:      s.Invalid.Load(),
		Timeouts:     s.Timeouts.Load(),
		Refused:      s.Refused.Load(),
	}
}
