// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package host tracks the execution phase of the process hosting plugins.
package host

import (
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/plugin"
)

// Compile-time interface check.
var _ plugin.PhaseSource = (*Phases)(nil)

// Phases is the host's phase state: Startup until the first round begins,
// then ChangeLevel between rounds and Anytime while a round is live. The
// pause flag is independent of the phase.
//
// Subscribers are called synchronously, in subscription order, after the
// change has been applied and the lock released. Phases is safe for
// concurrent use.
type Phases struct {
	mu      sync.Mutex
	phase   plugin.PhaseLevel
	paused  bool
	nextSub int
	subs    map[int]func(plugin.PhaseChange)
	order   []int
}

// NewPhases creates a phase source in Startup, not paused.
func NewPhases() *Phases {
	return &Phases{
		phase: plugin.Startup,
		subs:  make(map[int]func(plugin.PhaseChange)),
	}
}

// CurrentPhase implements plugin.PhaseSource.
func (p *Phases) CurrentPhase() plugin.PhaseLevel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// IsPaused implements plugin.PhaseSource.
func (p *Phases) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Subscribe implements plugin.PhaseSource.
func (p *Phases) Subscribe(fn func(plugin.PhaseChange)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.order = append(p.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs, id)
			for i, sub := range p.order {
				if sub == id {
					p.order = append(p.order[:i], p.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Advance moves the host to level. Only Startup, ChangeLevel and Anytime
// are host phases, and Startup cannot be re-entered once left. Advancing
// to the current phase is a no-op and notifies nobody.
func (p *Phases) Advance(level plugin.PhaseLevel) error {
	switch level {
	case plugin.Startup, plugin.ChangeLevel, plugin.Anytime:
	default:
		return oops.Code(plugin.CodeInvalidPhase).
			With("phase", level.String()).
			Errorf("%s is not a host phase", level)
	}

	p.mu.Lock()
	if level == p.phase {
		p.mu.Unlock()
		return nil
	}
	if level == plugin.Startup {
		current := p.phase
		p.mu.Unlock()
		return oops.Code(plugin.CodeInvalidPhase).
			With("phase", current.String()).
			Errorf("cannot return to startup from %s", current)
	}
	change := plugin.PhaseChange{
		Phase:        level,
		Paused:       p.paused,
		Previous:     p.phase,
		WasPaused:    p.paused,
		PhaseChanged: true,
	}
	p.phase = level
	subs := p.snapshotLocked()
	p.mu.Unlock()

	slog.Info("host phase changed", "phase", level.String(), "previous", change.Previous.String())
	notify(subs, change)
	return nil
}

// SetPaused sets the pause flag. Setting it to its current value is a
// no-op and notifies nobody.
func (p *Phases) SetPaused(paused bool) {
	p.mu.Lock()
	if paused == p.paused {
		p.mu.Unlock()
		return
	}
	change := plugin.PhaseChange{
		Phase:     p.phase,
		Paused:    paused,
		Previous:  p.phase,
		WasPaused: p.paused,
	}
	p.paused = paused
	subs := p.snapshotLocked()
	p.mu.Unlock()

	slog.Info("host pause state changed", "paused", paused, "phase", change.Phase.String())
	notify(subs, change)
}

func (p *Phases) snapshotLocked() []func(plugin.PhaseChange) {
	subs := make([]func(plugin.PhaseChange), 0, len(p.order))
	for _, id := range p.order {
		subs = append(subs, p.subs[id])
	}
	return subs
}

func notify(subs []func(plugin.PhaseChange), change plugin.PhaseChange) {
	for _, fn := range subs {
		fn(change)
	}
}
