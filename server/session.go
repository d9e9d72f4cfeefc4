// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package server implements the RPC Dispatcher & Session Manager: the
// per-session state machine, session-id assignment, lock enforcement,
// and handler registry, all serialized through one cooperative
// executor.
package server

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/yangconf/confd/mgmterror"
)

// SessionState is one state of the per-session lifecycle machine:
// HELLO -> READY -> (processing | locked-waiting)* -> CLOSED.
type SessionState int

const (
	StateHello SessionState = iota
	StateReady
	StateProcessing
	StateLockedWaiting
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateHello:
		return "hello"
	case StateReady:
		return "ready"
	case StateProcessing:
		return "processing"
	case StateLockedWaiting:
		return "locked-waiting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is one connected management session, identified by a
// monotonically increasing int32 session-id.
type Session struct {
	ID       int32
	Username string
	Groups   []string

	mu    sync.Mutex
	state SessionState
	conn  io.ReadWriteCloser
}

func newSession(id int32, username string, groups []string, conn io.ReadWriteCloser) *Session {
	return &Session{ID: id, Username: username, Groups: groups, state: StateHello, conn: conn}
}

// State reports the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves the session to next if the move is legal, returning
// an error otherwise. The legal graph is exactly:
// HELLO->READY, READY<->PROCESSING, READY<->LOCKED_WAITING, any->CLOSED.
func (s *Session) transition(next SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return mgmterror.NewOperationFailedError(mgmterror.TypeApplication, "session is closed")
	}
	switch next {
	case StateClosed:
		s.state = StateClosed
		return nil
	case StateReady:
		if s.state == StateHello || s.state == StateProcessing || s.state == StateLockedWaiting {
			s.state = StateReady
			return nil
		}
	case StateProcessing, StateLockedWaiting:
		if s.state == StateReady {
			s.state = next
			return nil
		}
	}
	return mgmterror.NewOperationFailedError(mgmterror.TypeApplication,
		"illegal session state transition")
}

// Close marks the session closed and closes its transport. Safe to call
// more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	s.state = StateClosed
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// SessionManager tracks every connected Session and assigns session-ids
// through a monitor: a mutex-protected map, looked up and mutated only
// through this type.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[int32]*Session
	nextID   int32
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[int32]*Session)}
}

// Create assigns the next session-id and registers a new Session in
// HELLO state.
func (m *SessionManager) Create(username string, groups []string, conn io.ReadWriteCloser) *Session {
	id := atomic.AddInt32(&m.nextID, 1)
	sess := newSession(id, username, groups, conn)
	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	return sess
}

// Get looks up a session by id.
func (m *SessionManager) Get(id int32) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Destroy removes id from the manager and closes its transport -- the
// kill-session operation, once the dispatcher has already released its
// locks.
func (m *SessionManager) Destroy(id int32) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		sess.Close()
	}
}

// All returns a snapshot of every live session, for iteration without
// holding the manager's lock.
func (m *SessionManager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}
