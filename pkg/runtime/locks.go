package runtime

import (
	"sort"
	"sync"

	"github.com/fortiblox/x1-journal/internal/types"
)

// lockTable hands out per-address locks. Writable addresses are locked
// exclusively, read-only ones shared. Entries are dropped once no
// transaction holds or waits on them.
type lockTable struct {
	mu    sync.Mutex
	locks map[types.Pubkey]*addressLock
}

type addressLock struct {
	sync.RWMutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[types.Pubkey]*addressLock)}
}

// lockRequest is one address of a lock set.
type lockRequest struct {
	key      types.Pubkey
	writable bool
}

// acquire locks every address of set in ascending key order, so
// overlapping sets never deadlock. The returned function releases them.
func (t *lockTable) acquire(set map[types.Pubkey]bool) func() {
	reqs := make([]lockRequest, 0, len(set))
	for key, writable := range set {
		reqs = append(reqs, lockRequest{key: key, writable: writable})
	}
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].key.Compare(reqs[j].key) < 0
	})

	held := make([]*addressLock, len(reqs))
	for i, req := range reqs {
		l := t.ref(req.key)
		if req.writable {
			l.Lock()
		} else {
			l.RLock()
		}
		held[i] = l
	}

	return func() {
		for i := len(reqs) - 1; i >= 0; i-- {
			if reqs[i].writable {
				held[i].Unlock()
			} else {
				held[i].RUnlock()
			}
			t.unref(reqs[i].key)
		}
	}
}

func (t *lockTable) ref(key types.Pubkey) *addressLock {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[key]
	if !ok {
		l = &addressLock{}
		t.locks[key] = l
	}
	l.refs++
	return l
}

func (t *lockTable) unref(key types.Pubkey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l := t.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
}

// size returns how many addresses currently have a lock entry.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
