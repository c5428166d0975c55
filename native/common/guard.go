package common

import (
	"errors"
	"sync/atomic"
)

var (
	ErrModulePaused  = errors.New("module paused")
	ErrReentrantCall = errors.New("reentrant call")
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// ReentrancyGuard rejects entry while a previous holder has not exited. The
// zero value is unlocked.
type ReentrancyGuard struct {
	entered atomic.Bool
}

// Enter acquires the guard or fails with ErrReentrantCall.
func (g *ReentrancyGuard) Enter() error {
	if !g.entered.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

// Exit releases the guard.
func (g *ReentrancyGuard) Exit() {
	g.entered.Store(false)
}

// Entered reports whether the guard is currently held.
func (g *ReentrancyGuard) Entered() bool {
	return g.entered.Load()
}
