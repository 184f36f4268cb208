package server

import "sync/atomic"

// Stats 为事件循环计数器快照，可在任意 goroutine 读取。
type Stats struct {
	Accepted       uint64
	AcceptErrors   uint64
	Closed         uint64
	Live           int64
	MessagesIn     uint64
	MessagesOut    uint64
	BytesIn        uint64
	BytesOut       uint64
	ProtocolErrors uint64
	IdleEvictions  uint64
}

type counters struct {
	accepted       atomic.Uint64
	acceptErrors   atomic.Uint64
	closed         atomic.Uint64
	live           atomic.Int64
	messagesIn     atomic.Uint64
	messagesOut    atomic.Uint64
	bytesIn        atomic.Uint64
	bytesOut       atomic.Uint64
	protocolErrors atomic.Uint64
	idleEvictions  atomic.Uint64
}

func (s *Server) Stats() Stats {
	return Stats{
		Accepted:       s.stats.accepted.Load(),
		AcceptErrors:   s.stats.acceptErrors.Load(),
		Closed:         s.stats.closed.Load(),
		Live:           s.stats.live.Load(),
		MessagesIn:     s.stats.messagesIn.Load(),
		MessagesOut:    s.stats.messagesOut.Load(),
		BytesIn:        s.stats.bytesIn.Load(),
		BytesOut:       s.stats.bytesOut.Load(),
		ProtocolErrors: s.stats.protocolErrors.Load(),
		IdleEvictions:  s.stats.idleEvictions.Load(),
	}
}
