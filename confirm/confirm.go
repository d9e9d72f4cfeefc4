// Copyright (c) 2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package confirm implements the confirmed-commit state machine:
// INACTIVE/PERSISTENT/EPHEMERAL/ROLLBACK states with begin/confirm/
// cancel/disconnect/expiry transitions. A pending confirmed-commit's
// rollback timer is tracked in-process with a cancellable
// time.AfterFunc, rather than as an externally-watched job file.
package confirm

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yangconf/confd/commit"
	"github.com/yangconf/confd/mgmterror"
	"github.com/yangconf/confd/tree"
)

// State is one of the four confirmed-commit states.
type State int

const (
	Inactive State = iota
	Persistent
	Ephemeral
	Rollback
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Persistent:
		return "persistent"
	case Ephemeral:
		return "ephemeral"
	case Rollback:
		return "rollback"
	}
	return "unknown"
}

// DefaultTimeout is the confirmation window when the caller does not
// override it.
const DefaultTimeout = 600 * time.Second

// RollbackFunc restores running from image; it is the abort-like path
// the Commit Engine exposes, injected so this package does not need to
// know about datastore.Facade directly.
type RollbackFunc func(image *tree.Element) error

// Machine is one confirmed-commit state machine, scoped to one running
// datastore.
type Machine struct {
	mu       sync.Mutex
	state    State
	rollback RollbackFunc

	session   int32
	persistID string
	image     *tree.Element
	timer     *time.Timer

	// OnRollback is invoked (if non-nil) after an automatic or explicit
	// rollback completes, so callers can log/notify. It is called without
	// the internal lock held.
	OnRollback func(reason string)
}

// NewMachine constructs a Machine in the Inactive state.
func NewMachine(rollback RollbackFunc) *Machine {
	return &Machine{state: Inactive, rollback: rollback}
}

// State reports the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Begin starts a confirmed commit: INACTIVE -> EPHEMERAL or PERSISTENT,
// or extends an in-progress one for the same originating session /
// matching persist-id (the state's own transition, not a fresh Begin).
func (m *Machine) Begin(sessionID int32, persistID string, timeout time.Duration, image *tree.Element) (*mgmterror.MgmtError, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Inactive:
		m.session = sessionID
		m.image = image
		if persistID != "" {
			m.persistID = persistID
			m.state = Persistent
		} else {
			m.persistID = uuid.NewString()
			m.state = Ephemeral
		}
		m.armTimer(timeout)
		return nil, nil

	case Ephemeral, Persistent:
		if !m.sameParty(sessionID, persistID) {
			return mgmterror.NewOperationFailedError(mgmterror.TypeApplication,
				"a confirmed commit is already in progress from another session"), nil
		}
		// Extension: reset the timer, keep the image.
		m.armTimer(timeout)
		if persistID != "" {
			m.persistID = persistID
			m.state = Persistent
		}
		return nil, nil

	default:
		return mgmterror.NewOperationFailedError(mgmterror.TypeApplication,
			"cannot start a confirmed commit while a rollback is in progress"), nil
	}
}

// sameParty reports whether sessionID/persistID identifies the party
// that owns the in-progress confirmed commit: the originating session
// for an EPHEMERAL one, or a matching persist-id for a PERSISTENT one.
func (m *Machine) sameParty(sessionID int32, persistID string) bool {
	if m.state == Persistent {
		return persistID != "" && persistID == m.persistID
	}
	return sessionID == m.session
}

// Confirm finalizes the in-progress confirmed commit (an unconfirmed
// `commit`): EPHEMERAL/PERSISTENT -> INACTIVE. It must be invoked by the
// originating session (EPHEMERAL) or with a matching persist-id
// (PERSISTENT).
func (m *Machine) Confirm(sessionID int32, persistID string) *mgmterror.MgmtError {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Inactive {
		return nil // nothing pending; an unconfirmed plain commit.
	}
	if m.state == Rollback {
		return mgmterror.NewOperationFailedError(mgmterror.TypeApplication,
			"a rollback is in progress")
	}
	if !m.sameParty(sessionID, persistID) {
		return mgmterror.NewOperationFailedError(mgmterror.TypeApplication,
			"persist-id does not match outstanding confirmed commit")
	}
	m.cancelTimerLocked()
	m.reset()
	return nil
}

// Cancel performs an explicit cancel-commit: EPHEMERAL/PERSISTENT ->
// ROLLBACK -> (after doRollback) INACTIVE.
func (m *Machine) Cancel() *mgmterror.MgmtError {
	m.mu.Lock()
	if m.state != Ephemeral && m.state != Persistent {
		m.mu.Unlock()
		return mgmterror.NewOperationFailedError(mgmterror.TypeApplication,
			"no confirmed commit is in progress")
	}
	m.cancelTimerLocked()
	m.mu.Unlock()
	m.doRollback("cancel-commit")
	return nil
}

// Disconnect reports that sessionID has disconnected; if it was the
// originating session of an EPHEMERAL confirmed commit, this triggers
// an automatic rollback.
func (m *Machine) Disconnect(sessionID int32) {
	m.mu.Lock()
	if m.state != Ephemeral || m.session != sessionID {
		m.mu.Unlock()
		return
	}
	m.cancelTimerLocked()
	m.mu.Unlock()
	m.doRollback("originating session disconnected")
}

// armTimer (re)starts the confirmation timer; callers hold m.mu.
func (m *Machine) armTimer(d time.Duration) {
	m.cancelTimerLocked()
	m.timer = time.AfterFunc(d, func() {
		m.onExpiry()
	})
}

// cancelTimerLocked stops the pending timer, if any. Safe to call
// whether or not a timer is armed, and idempotent.
func (m *Machine) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) onExpiry() {
	m.mu.Lock()
	if m.state != Ephemeral && m.state != Persistent {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.doRollback("confirmation timer expired")
}

// reset clears all confirmed-commit bookkeeping and returns to Inactive.
// Callers hold m.mu.
func (m *Machine) reset() {
	m.state = Inactive
	m.session = 0
	m.persistID = ""
	m.image = nil
}

// RollbackResult carries the three result-flag bits of a rollback-failed
// error.
type RollbackResult struct {
	NotApplied      bool
	DBNotDeleted    bool
	FailsafeApplied bool
}

// doRollback performs the ROLLBACK -> INACTIVE transition: hand the
// saved image to the Commit Engine's abort-like restore path, then
// reset. A restore failure surfaces via OnRollback as a
// "rollback-failed (...): not-applied" message instead of a panic -- there is no caller
// left to hand an error back to at this point.
func (m *Machine) doRollback(reason string) {
	m.mu.Lock()
	m.state = Rollback
	image := m.image
	m.mu.Unlock()

	var notApplied bool
	if err := m.rollback(image); err != nil {
		notApplied = true
	}

	m.mu.Lock()
	m.reset()
	m.mu.Unlock()

	if m.OnRollback != nil {
		if notApplied {
			m.OnRollback(fmt.Sprintf("rollback-failed (%s): not-applied", reason))
		} else {
			m.OnRollback(fmt.Sprintf("Commit was not confirmed; automatic rollback complete (%s)", reason))
		}
	}
}

// RollbackFromEngine builds the RollbackFunc Machine expects: it restores
// image into runningName by calling put, and treats a nil image as
// nothing to restore. e is not consulted.
func RollbackFromEngine(e *commit.Engine, runningName string, put func(name string, image *tree.Element) error) RollbackFunc {
	return func(image *tree.Element) error {
		if image == nil {
			return nil
		}
		return put(runningName, image)
	}
}
