/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package globals is the process-wide session singleton: one struct,
// one accessor, created once per process and shared by every analysis
// package.
package globals

import (
	"sync"

	"github.com/google/uuid"
)

// Globals holds process-wide analysis session state.
type Globals struct {
	// SessionID identifies one load+analyze run, useful for correlating
	// trace output across the loader, vm and graph packages.
	SessionID uuid.UUID

	// ConstrainedHost, when true, forces search.Search onto its serial
	// path (SerialScan) instead of one goroutine per multi-DEX group.
	// Hosts that cannot provide a worker pool (e.g. an
	// embedding that pins everything to one OS thread) set this before
	// running any analysis.
	ConstrainedHost bool

	// MaxArchiveDepth records the ZIP-in-ZIP recursion depth chosen on
	// the command line. Zero means unbounded. archive.Open takes its
	// depth bound as a parameter and does not read this field.
	MaxArchiveDepth int

	// MaxMethodErrors holds a per-method interpretation error budget.
	// No package reads it: the graph builder's dynamic phase stops a
	// method's run at its first non-breakpoint exception.
	MaxMethodErrors int

	mu      sync.Mutex
	exitNow bool
}

var (
	once sync.Once
	ref  *Globals
)

// Get returns the process-wide Globals, initializing it with defaults on
// first use.
func Get() *Globals {
	once.Do(func() {
		ref = &Globals{
			SessionID:       uuid.New(),
			MaxArchiveDepth: 0,
			MaxMethodErrors: 10,
		}
	})
	return ref
}

// Reset reinitializes the singleton -- used only by tests that need a
// clean session.
func Reset() {
	ref = &Globals{
		SessionID:       uuid.New(),
		MaxArchiveDepth: 0,
		MaxMethodErrors: 10,
	}
}

// RequestExit marks that a command-line front end should stop after the
// current operation.
func (g *Globals) RequestExit() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exitNow = true
}

func (g *Globals) ExitRequested() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exitNow
}
