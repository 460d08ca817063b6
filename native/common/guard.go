package common

import (
	"errors"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

// Action scopes a pause switch to a single entry point of a module, for
// example "lending.borrow".
func Action(module, action string) string {
	if action == "" {
		return module
	}
	return module + "." + action
}

// Guard fails when either the module or the named action is paused.
func Guard(p PauseView, module string, actions ...string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	for _, action := range actions {
		if p.IsPaused(Action(module, action)) {
			return ErrModulePaused
		}
	}
	return nil
}

// Pauses is an in-memory PauseView toggled by the node operator.
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

func NewPauses(keys ...string) *Pauses {
	p := &Pauses{paused: make(map[string]bool)}
	for _, key := range keys {
		p.Set(key, true)
	}
	return p
}

func (p *Pauses) Set(key string, paused bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if paused {
		p.paused[key] = true
		return
	}
	delete(p.paused, key)
}

func (p *Pauses) IsPaused(key string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[strings.ToLower(key)]
}
