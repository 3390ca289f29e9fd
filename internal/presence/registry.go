// Package presence tracks which live connection sits in which room.
//
// The Registry is keyed by connection, never by user: one user may hold
// several connections, and the per-user view is derived only when a room is
// read. It is safe for concurrent use; every read returns a snapshot taken
// under a single lock.
package presence

import (
	"cmp"
	"slices"
	"sync"

	"github.com/Tyrowin/groupchat/internal/domain"
)

// Connection is the registry's record of one live socket.
type Connection struct {
	ID   string
	User domain.Principal
	Room string
}

// Snapshot is a consistent view of one room.
type Snapshot struct {
	Room        string
	Users       []domain.Principal
	Connections []string
}

type entry struct {
	user domain.Principal
	room string
	seq  uint64
}

// Registry maps connection ids to (user, room) with a per-room index.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*entry
	rooms map[string]map[string]struct{}
	seq   uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*entry),
		rooms: make(map[string]map[string]struct{}),
	}
}

// Connect registers connID with no room. Connecting an id that is already
// known only refreshes its user.
func (r *Registry) Connect(connID string, user domain.Principal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[connID]; ok {
		e.user = user
		return
	}
	r.conns[connID] = &entry{user: user}
}

// SetConnection places connID in room. It returns the room the connection
// occupied before, if any, and whether the room changed. Joining the current
// room again is a no-op.
func (r *Registry) SetConnection(connID string, user domain.Principal, room string) (previous string, joined bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		e = &entry{}
		r.conns[connID] = e
	}
	e.user = user
	if e.room == room {
		return "", false
	}

	previous = e.room
	r.unindex(connID, e.room)
	r.seq++
	e.room = room
	e.seq = r.seq
	if room != "" {
		set, ok := r.rooms[room]
		if !ok {
			set = make(map[string]struct{})
			r.rooms[room] = set
		}
		set[connID] = struct{}{}
	}
	return previous, true
}

// LeaveRoom clears connID's room and reports the room it left. The
// connection stays registered.
func (r *Registry) LeaveRoom(connID string) (room string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, found := r.conns[connID]
	if !found || e.room == "" {
		return "", false
	}
	room = e.room
	r.unindex(connID, room)
	e.room = ""
	return room, true
}

// ClearConnection forgets connID entirely and returns its last record.
func (r *Registry) ClearConnection(connID string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return Connection{}, false
	}
	r.unindex(connID, e.room)
	delete(r.conns, connID)
	return Connection{ID: connID, User: e.user, Room: e.room}, true
}

// Lookup returns connID's current record.
func (r *Registry) Lookup(connID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok {
		return Connection{}, false
	}
	return Connection{ID: connID, User: e.user, Room: e.room}, true
}

// UsersInRoom lists the distinct authenticated users in room, ordered by
// their earliest join.
func (r *Registry) UsersInRoom(room string) []domain.Principal {
	return r.Snapshot(room).Users
}

// ConnectionsInRoom lists the connection ids in room in join order.
func (r *Registry) ConnectionsInRoom(room string) []string {
	return r.Snapshot(room).Connections
}

// Snapshot reads users and connections of room under one lock.
func (r *Registry) Snapshot(room string) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{Room: room, Users: []domain.Principal{}, Connections: []string{}}
	set := r.rooms[room]
	if len(set) == 0 {
		return snap
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Compare(r.conns[a].seq, r.conns[b].seq)
	})

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		snap.Connections = append(snap.Connections, id)
		u := r.conns[id].user
		if u.Anonymous() {
			continue
		}
		if _, dup := seen[u.ID]; dup {
			continue
		}
		seen[u.ID] = struct{}{}
		snap.Users = append(snap.Users, u)
	}
	return snap
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// OccupiedRooms reports how many rooms have at least one connection.
func (r *Registry) OccupiedRooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// unindex removes connID from room's index; callers hold mu.
func (r *Registry) unindex(connID, room string) {
	if room == "" {
		return
	}
	set := r.rooms[room]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.rooms, room)
	}
}
