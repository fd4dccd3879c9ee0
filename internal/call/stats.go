package call

import "time"

// PeerSummary is what we saw of one remote participant.
type PeerSummary struct {
	ID         string
	Name       string
	ClientType string
	State      string
	Tracks     int
	Packets    uint64
	Bytes      uint64
	RTT        time.Duration
	Connected  time.Duration
}

// Summary is reported when the call ends.
type Summary struct {
	RoomID       string
	Duration     time.Duration
	Peers        []PeerSummary
	ChatSent     int
	ChatReceived int
}

// TotalBytes sums received media bytes over every peer.
func (s Summary) TotalBytes() uint64 {
	var total uint64
	for _, p := range s.Peers {
		total += p.Bytes
	}
	return total
}

// TotalPackets sums received RTP packets over every peer.
func (s Summary) TotalPackets() uint64 {
	var total uint64
	for _, p := range s.Peers {
		total += p.Packets
	}
	return total
}
