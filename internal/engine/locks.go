package engine

import (
	"sync"

	"github.com/roach88/passvault/internal/ir"
)

// walletLocks serializes actions per wallet.
//
// Entries are reference counted and dropped when the last holder unlocks,
// so the map only holds wallets with an action in flight.
//
// Thread-safety: safe for concurrent use.
type walletLocks struct {
	mu    sync.Mutex
	locks map[ir.Address]*walletLock
}

type walletLock struct {
	mu   sync.Mutex
	refs int
}

func newWalletLocks() *walletLocks {
	return &walletLocks{locks: make(map[ir.Address]*walletLock)}
}

// lock blocks until wallet is free and returns the unlock function.
func (l *walletLocks) lock(wallet ir.Address) func() {
	l.mu.Lock()
	wl, ok := l.locks[wallet]
	if !ok {
		wl = &walletLock{}
		l.locks[wallet] = wl
	}
	wl.refs++
	l.mu.Unlock()

	wl.mu.Lock()
	return func() {
		wl.mu.Unlock()
		l.mu.Lock()
		wl.refs--
		if wl.refs == 0 {
			delete(l.locks, wallet)
		}
		l.mu.Unlock()
	}
}

// inFlight reports how many wallets currently have a holder or waiter.
func (l *walletLocks) inFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
