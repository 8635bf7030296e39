package signaling

import (
	"sort"
	"sync"
)

// Directory tracks which connections are joined to which rooms.
// Rooms exist only while they have members.
type Directory interface {
	// Join adds connID to roomID. It reports false if connID was already a member.
	Join(roomID, connID string) bool
	// Leave removes connID from roomID. It reports false if connID was not a member.
	Leave(roomID, connID string) bool
	// LeaveAll removes connID from every room and returns the rooms it left.
	LeaveAll(connID string) []string
	// Broadcast calls deliver for every member of roomID except senderID and
	// returns the number of recipients.
	Broadcast(roomID, senderID string, deliver func(connID string)) int

	Contains(roomID, connID string) bool
	Size(roomID string) int
	// Members returns the connection IDs in roomID, sorted.
	Members(roomID string) []string
	RoomsOf(connID string) []string
	Stats() DirectoryStats
}

// DirectoryStats is a point-in-time view of the directory.
type DirectoryStats struct {
	Rooms       int `json:"rooms"`
	Memberships int `json:"memberships"`
}

// MemoryDirectory is an in-process Directory guarded by a single RWMutex.
type MemoryDirectory struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
	conns map[string]map[string]struct{}
}

// NewMemoryDirectory returns an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		rooms: make(map[string]map[string]struct{}),
		conns: make(map[string]map[string]struct{}),
	}
}

func (d *MemoryDirectory) Join(roomID, connID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, ok := d.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		d.rooms[roomID] = members
	}
	if _, ok := members[connID]; ok {
		return false
	}
	members[connID] = struct{}{}

	joined, ok := d.conns[connID]
	if !ok {
		joined = make(map[string]struct{})
		d.conns[connID] = joined
	}
	joined[roomID] = struct{}{}
	return true
}

func (d *MemoryDirectory) Leave(roomID, connID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.leaveLocked(roomID, connID)
}

func (d *MemoryDirectory) leaveLocked(roomID, connID string) bool {
	members, ok := d.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}

	delete(members, connID)
	if len(members) == 0 {
		delete(d.rooms, roomID)
	}

	if joined, ok := d.conns[connID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(d.conns, connID)
		}
	}
	return true
}

func (d *MemoryDirectory) LeaveAll(connID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	left := sortedKeys(d.conns[connID])
	for _, roomID := range left {
		d.leaveLocked(roomID, connID)
	}
	return left
}

func (d *MemoryDirectory) Broadcast(roomID, senderID string, deliver func(connID string)) int {
	// Snapshot under the lock; deliver may call back into the directory.
	d.mu.RLock()
	recipients := make([]string, 0, len(d.rooms[roomID]))
	for connID := range d.rooms[roomID] {
		if connID != senderID {
			recipients = append(recipients, connID)
		}
	}
	d.mu.RUnlock()

	for _, connID := range recipients {
		deliver(connID)
	}
	return len(recipients)
}

func (d *MemoryDirectory) Contains(roomID, connID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.rooms[roomID][connID]
	return ok
}

func (d *MemoryDirectory) Size(roomID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms[roomID])
}

func (d *MemoryDirectory) Members(roomID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedKeys(d.rooms[roomID])
}

func (d *MemoryDirectory) RoomsOf(connID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedKeys(d.conns[connID])
}

func (d *MemoryDirectory) Stats() DirectoryStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := DirectoryStats{Rooms: len(d.rooms)}
	for _, members := range d.rooms {
		stats.Memberships += len(members)
	}
	return stats
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
