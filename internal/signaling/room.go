package signaling

import "time"

// Room is a set of participants that exchange signaling messages with each other.
// It is only touched from the hub goroutine.
type Room struct {
	// ID is the unique identifier for the room.
	ID string

	// CreatedAt is when the first participant arrived.
	CreatedAt time.Time

	participants map[string]*Participant

	// order keeps participant IDs in join order so listings are stable.
	order []string
}

func newRoom(id string, now time.Time) *Room {
	return &Room{
		ID:           id,
		CreatedAt:    now,
		participants: make(map[string]*Participant),
	}
}

func (r *Room) add(p *Participant) {
	if _, ok := r.participants[p.ID]; ok {
		return
	}
	r.participants[p.ID] = p
	r.order = append(r.order, p.ID)
}

func (r *Room) remove(id string) bool {
	if _, ok := r.participants[id]; !ok {
		return false
	}
	delete(r.participants, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Room) get(id string) *Participant {
	return r.participants[id]
}

// Len returns the number of participants currently in the room.
func (r *Room) Len() int {
	return len(r.participants)
}

// others returns every participant except the one with the given ID, in join order.
func (r *Room) others(exclude string) []*Participant {
	out := make([]*Participant, 0, len(r.order))
	for _, id := range r.order {
		if id == exclude {
			continue
		}
		out = append(out, r.participants[id])
	}
	return out
}

func (r *Room) infos(exclude string) []ParticipantInfo {
	others := r.others(exclude)
	out := make([]ParticipantInfo, 0, len(others))
	for _, p := range others {
		out = append(out, p.info())
	}
	return out
}

// RoomSnapshot is a point-in-time copy of a room for listings.
type RoomSnapshot struct {
	ID           string            `json:"id"`
	CreatedAt    time.Time         `json:"created_at"`
	Participants []ParticipantInfo `json:"participants"`
}

func (r *Room) snapshot() RoomSnapshot {
	return RoomSnapshot{
		ID:           r.ID,
		CreatedAt:    r.CreatedAt,
		Participants: r.infos(""),
	}
}
