package chat

import (
	"hash/maphash"
	"slices"
	"sync"
)

// DefaultStripes is the number of lock stripes used by NewRegistry.
const DefaultStripes = 32

// Membership is the bidirectional user<->room index the Engine mutates.
// Every method is safe for concurrent use and atomic on its own.
type Membership interface {
	// Join pairs user and room and reports whether the pairing is new.
	Join(user, room string) bool
	// Leave removes the pairing and reports whether it existed.
	Leave(user, room string) bool
	RoomsOf(user string) []string
	UsersOf(room string) []string
	IsMember(user, room string) bool
	// Counts returns the number of non-empty rooms and of users in at
	// least one room.
	Counts() (rooms, users int)
}

type memberSet map[string]struct{}

func (s memberSet) add(v string) bool {
	if _, ok := s[v]; ok {
		return false
	}
	s[v] = struct{}{}
	return true
}

func (s memberSet) remove(v string) bool {
	if _, ok := s[v]; !ok {
		return false
	}
	delete(s, v)
	return true
}

func (s memberSet) sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

type stripe struct {
	mu        sync.RWMutex
	userRooms map[string]memberSet
	roomUsers map[string]memberSet
}

// Registry is a lock-striped Membership. A user's room set lives in the
// stripe selected by hashing the user id; a room's user set lives in the
// stripe selected by hashing the room id. A mutation locks both stripes in
// index order, so readers never observe one side without the other and
// traffic on unrelated rooms does not contend on a single lock.
//
// A key with no members is always absent; empty sets are never kept.
type Registry struct {
	seed    maphash.Seed
	stripes []stripe
}

var _ Membership = (*Registry)(nil)

// NewRegistry returns an empty registry with DefaultStripes stripes.
func NewRegistry() *Registry {
	return NewStripedRegistry(DefaultStripes)
}

// NewStripedRegistry returns an empty registry with n stripes. n < 1 is
// treated as 1.
func NewStripedRegistry(n int) *Registry {
	if n < 1 {
		n = 1
	}
	r := &Registry{
		seed:    maphash.MakeSeed(),
		stripes: make([]stripe, n),
	}
	for i := range r.stripes {
		r.stripes[i].userRooms = make(map[string]memberSet)
		r.stripes[i].roomUsers = make(map[string]memberSet)
	}
	return r
}

func (r *Registry) userStripe(user string) int {
	return int(maphash.String(r.seed, "u:"+user) % uint64(len(r.stripes)))
}

func (r *Registry) roomStripe(room string) int {
	return int(maphash.String(r.seed, "r:"+room) % uint64(len(r.stripes)))
}

// lockPair write-locks the stripes of user and room and returns them along
// with the matching unlock function.
func (r *Registry) lockPair(user, room string) (*stripe, *stripe, func()) {
	ui, ri := r.userStripe(user), r.roomStripe(room)
	us, rs := &r.stripes[ui], &r.stripes[ri]

	if ui == ri {
		us.mu.Lock()
		return us, rs, us.mu.Unlock
	}

	first, second := us, rs
	if ri < ui {
		first, second = rs, us
	}
	first.mu.Lock()
	second.mu.Lock()
	return us, rs, func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

// Join implements Membership.
func (r *Registry) Join(user, room string) bool {
	us, rs, unlock := r.lockPair(user, room)
	defer unlock()

	rooms, ok := us.userRooms[user]
	if !ok {
		rooms = make(memberSet)
		us.userRooms[user] = rooms
	}
	users, ok := rs.roomUsers[room]
	if !ok {
		users = make(memberSet)
		rs.roomUsers[room] = users
	}

	added := rooms.add(room)
	users.add(user)
	return added
}

// Leave implements Membership. Leaving a room never joined is a no-op.
func (r *Registry) Leave(user, room string) bool {
	us, rs, unlock := r.lockPair(user, room)
	defer unlock()

	removed := false
	if rooms, ok := us.userRooms[user]; ok {
		removed = rooms.remove(room)
		if len(rooms) == 0 {
			delete(us.userRooms, user)
		}
	}
	if users, ok := rs.roomUsers[room]; ok {
		users.remove(user)
		if len(users) == 0 {
			delete(rs.roomUsers, room)
		}
	}
	return removed
}

// RoomsOf returns a sorted snapshot of the rooms user belongs to.
func (r *Registry) RoomsOf(user string) []string {
	s := &r.stripes[r.userStripe(user)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userRooms[user].sorted()
}

// UsersOf returns a sorted snapshot of the users in room.
func (r *Registry) UsersOf(room string) []string {
	s := &r.stripes[r.roomStripe(room)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomUsers[room].sorted()
}

// IsMember reports whether user is currently in room.
func (r *Registry) IsMember(user, room string) bool {
	s := &r.stripes[r.roomStripe(room)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.roomUsers[room][user]
	return ok
}

// Counts implements Membership. Stripes are read one at a time, so under
// concurrent mutation the result is approximate.
func (r *Registry) Counts() (rooms, users int) {
	for i := range r.stripes {
		s := &r.stripes[i]
		s.mu.RLock()
		rooms += len(s.roomUsers)
		users += len(s.userRooms)
		s.mu.RUnlock()
	}
	return rooms, users
}
