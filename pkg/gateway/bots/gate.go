package bots

import (
	"sync"

	"github.com/vango-go/vai-rooms/pkg/gateway/bots/registry"
)

const DefaultCeiling = 1

// Gate admits worker launches per room. Counting running workers, reserving
// a slot, and inserting the launched worker all happen under the room's own
// mutex, and pending reservations count against the ceiling, so two
// concurrent launches can never both observe free capacity.
type Gate struct {
	ceiling  int
	registry *registry.Registry

	mu    sync.Mutex
	rooms map[string]*roomSlot
}

type roomSlot struct {
	mu      sync.Mutex
	pending int
	refs    int
}

func NewGate(ceiling int, reg *registry.Registry) *Gate {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Gate{
		ceiling:  ceiling,
		registry: reg,
		rooms:    make(map[string]*roomSlot),
	}
}

func (g *Gate) Ceiling() int {
	return g.ceiling
}

// Reservation is a claimed slot that must be either committed with a
// launched worker or released.
type Reservation struct {
	gate    *Gate
	roomURL string
	slot    *roomSlot
	once    sync.Once
}

// TryReserve claims a slot for roomURL or fails with a *CapacityError
// without side effects.
func (g *Gate) TryReserve(roomURL string) (*Reservation, error) {
	slot := g.acquire(roomURL)

	slot.mu.Lock()
	active := g.registry.CountRunning(roomURL) + slot.pending
	if active >= g.ceiling {
		slot.mu.Unlock()
		g.drop(roomURL, slot)
		return nil, &CapacityError{RoomURL: roomURL, Ceiling: g.ceiling}
	}
	slot.pending++
	slot.mu.Unlock()

	return &Reservation{gate: g, roomURL: roomURL, slot: slot}, nil
}

// Active returns running plus reserved workers for roomURL.
func (g *Gate) Active(roomURL string) int {
	g.mu.Lock()
	slot := g.rooms[roomURL]
	g.mu.Unlock()

	n := g.registry.CountRunning(roomURL)
	if slot != nil {
		slot.mu.Lock()
		n += slot.pending
		slot.mu.Unlock()
	}
	return n
}

// Commit converts the reservation into a registry entry.
func (r *Reservation) Commit(h *registry.Handle) error {
	err := errReservationSpent
	r.once.Do(func() {
		r.slot.mu.Lock()
		err = r.gate.registry.Insert(h)
		r.slot.pending--
		r.slot.mu.Unlock()
		r.gate.drop(r.roomURL, r.slot)
	})
	return err
}

// Release gives the slot back without recording a worker. It is a no-op
// after Commit.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.slot.mu.Lock()
		r.slot.pending--
		r.slot.mu.Unlock()
		r.gate.drop(r.roomURL, r.slot)
	})
}

func (g *Gate) acquire(roomURL string) *roomSlot {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot, ok := g.rooms[roomURL]
	if !ok {
		slot = &roomSlot{}
		g.rooms[roomURL] = slot
	}
	slot.refs++
	return slot
}

func (g *Gate) drop(roomURL string, slot *roomSlot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot.refs--
	if slot.refs == 0 && g.rooms[roomURL] == slot {
		delete(g.rooms, roomURL)
	}
}
