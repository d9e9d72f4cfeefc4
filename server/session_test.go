// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct{}

func (nopConn) Read([]byte) (int, error)  { return 0, io.EOF }
func (nopConn) Write(p []byte) (int, error) { return len(p), nil }
func (nopConn) Close() error              { return nil }

func TestSessionManagerCreateAssignsIncreasingIDs(t *testing.T) {
	m := NewSessionManager()
	a := m.Create("alice", []string{"admin"}, nopConn{})
	b := m.Create("bob", nil, nopConn{})
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, StateHello, a.State())
}

func TestSessionManagerGetAndDestroy(t *testing.T) {
	m := NewSessionManager()
	s := m.Create("alice", nil, nopConn{})

	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	m.Destroy(s.ID)
	_, ok = m.Get(s.ID)
	assert.False(t, ok)
	assert.Equal(t, StateClosed, s.State())
}

func TestSessionTransitionLegalGraph(t *testing.T) {
	s := newSession(1, "alice", nil, nopConn{})
	require.NoError(t, s.transition(StateReady))
	require.NoError(t, s.transition(StateProcessing))
	assert.Error(t, s.transition(StateProcessing))
	require.NoError(t, s.transition(StateReady))
	require.NoError(t, s.transition(StateLockedWaiting))
	require.NoError(t, s.transition(StateReady))
}

func TestSessionTransitionRejectedAfterClose(t *testing.T) {
	s := newSession(1, "alice", nil, nopConn{})
	require.NoError(t, s.Close())
	assert.Error(t, s.transition(StateReady))
}

func TestSessionManagerAllReturnsSnapshot(t *testing.T) {
	m := NewSessionManager()
	m.Create("alice", nil, nopConn{})
	m.Create("bob", nil, nopConn{})
	assert.Len(t, m.All(), 2)
}
