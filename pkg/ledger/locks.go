package ledger

import (
	"sync"
)

// accountLocks hands out one mutex per owner. Mutexes are created on first use
// and kept for the life of the process, so two calls for the same owner always
// contend on the same lock while different owners never share one.
type accountLocks struct {
	locks sync.Map // ownerID -> *sync.Mutex
}

func (a *accountLocks) lock(ownerID string) (unlock func()) {
	v, _ := a.locks.LoadOrStore(ownerID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
