// Copyright (c) 2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package confirm

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yangconf/confd/tree"
)

func newRecordingRollback() (RollbackFunc, *int32) {
	var calls int32
	return func(image *tree.Element) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, &calls
}

func TestBeginWithoutPersistGoesEphemeral(t *testing.T) {
	rb, _ := newRecordingRollback()
	m := NewMachine(rb)
	merr, err := m.Begin(1, "", time.Minute, tree.New("", ""))
	require.NoError(t, err)
	require.Nil(t, merr)
	assert.Equal(t, Ephemeral, m.State())
}

func TestBeginWithPersistGoesPersistent(t *testing.T) {
	rb, _ := newRecordingRollback()
	m := NewMachine(rb)
	_, err := m.Begin(1, "my-id", time.Minute, tree.New("", ""))
	require.NoError(t, err)
	assert.Equal(t, Persistent, m.State())
}

func TestConfirmFromOriginatingSessionReturnsInactive(t *testing.T) {
	rb, calls := newRecordingRollback()
	m := NewMachine(rb)
	m.Begin(1, "", time.Minute, tree.New("", ""))

	merr := m.Confirm(1, "")
	assert.Nil(t, merr)
	assert.Equal(t, Inactive, m.State())
	assert.EqualValues(t, 0, atomic.LoadInt32(calls)) // confirmed, no rollback
}

func TestConfirmFromWrongSessionRejected(t *testing.T) {
	rb, _ := newRecordingRollback()
	m := NewMachine(rb)
	m.Begin(1, "", time.Minute, tree.New("", ""))

	merr := m.Confirm(2, "")
	require.NotNil(t, merr)
	assert.Equal(t, Ephemeral, m.State())
}

func TestConfirmPersistentByMatchingPersistID(t *testing.T) {
	rb, _ := newRecordingRollback()
	m := NewMachine(rb)
	m.Begin(1, "abc", time.Minute, tree.New("", ""))

	merr := m.Confirm(99, "abc")
	assert.Nil(t, merr)
	assert.Equal(t, Inactive, m.State())
}

func TestCancelTriggersRollback(t *testing.T) {
	rb, calls := newRecordingRollback()
	m := NewMachine(rb)
	m.Begin(1, "", time.Minute, tree.New("", ""))

	merr := m.Cancel()
	assert.Nil(t, merr)
	assert.Equal(t, Inactive, m.State())
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestDisconnectOfOriginatingSessionRollsBack(t *testing.T) {
	rb, calls := newRecordingRollback()
	m := NewMachine(rb)
	m.Begin(7, "", time.Minute, tree.New("", ""))

	m.Disconnect(7)
	assert.Equal(t, Inactive, m.State())
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestDisconnectOfOtherSessionIsNoop(t *testing.T) {
	rb, calls := newRecordingRollback()
	m := NewMachine(rb)
	m.Begin(7, "", time.Minute, tree.New("", ""))

	m.Disconnect(8)
	assert.Equal(t, Ephemeral, m.State())
	assert.EqualValues(t, 0, atomic.LoadInt32(calls))
}

func TestTimerExpiryRollsBack(t *testing.T) {
	rb, calls := newRecordingRollback()
	m := NewMachine(rb)
	m.Begin(1, "", 20*time.Millisecond, tree.New("", ""))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(calls) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, Inactive, m.State())
}

func TestExtensionResetsTimerWithoutRollback(t *testing.T) {
	rb, calls := newRecordingRollback()
	m := NewMachine(rb)
	m.Begin(1, "", 30*time.Millisecond, tree.New("", ""))

	time.Sleep(15 * time.Millisecond)
	_, err := m.Begin(1, "", 200*time.Millisecond, tree.New("", ""))
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, Ephemeral, m.State())
	assert.EqualValues(t, 0, atomic.LoadInt32(calls))
}

func TestBeginFromDifferentSessionWhileEphemeralRejected(t *testing.T) {
	rb, _ := newRecordingRollback()
	m := NewMachine(rb)
	m.Begin(1, "", time.Minute, tree.New("", ""))

	merr, err := m.Begin(2, "", time.Minute, tree.New("", ""))
	require.NoError(t, err)
	require.NotNil(t, merr)
	assert.Equal(t, Ephemeral, m.State())
}
