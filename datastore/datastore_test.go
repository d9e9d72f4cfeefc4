// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package datastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yangconf/confd/tree"
)

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	return New(b)
}

func TestCreateExistsDelete(t *testing.T) {
	f := newTestFacade(t)
	ok, _ := f.Exists("candidate")
	assert.False(t, ok)

	require.Equal(t, OK, f.Create("candidate"))
	require.Equal(t, Conflict, f.Create("candidate"))

	ok, _ = f.Exists("candidate")
	assert.True(t, ok)

	require.Equal(t, OK, f.Delete("candidate"))
	require.Equal(t, NotFound, f.Delete("candidate"))
}

func TestCopyIsIndependentSnapshot(t *testing.T) {
	f := newTestFacade(t)
	require.Equal(t, OK, f.Create("candidate"))
	require.Equal(t, OK, f.Create("running"))

	cfg := tree.New("", "")
	x := tree.New("urn:ex", "x")
	x.Body = "7"
	cfg.AddChild(x)
	_, err := f.Put("candidate", cfg, OpMerge)
	require.NoError(t, err)

	require.Equal(t, OK, f.Copy("candidate", "running"))

	cfg2 := tree.New("", "")
	x2 := tree.New("urn:ex", "x")
	x2.Body = "99"
	cfg2.AddChild(x2)
	_, err = f.Put("candidate", cfg2, OpMerge)
	require.NoError(t, err)

	got, _ := f.Get("running", nil, ContentConfig, 0)
	assert.Equal(t, "7", got.Child("x").Body)
}

func TestPutMergeDoesNotRemoveSiblings(t *testing.T) {
	f := newTestFacade(t)
	require.Equal(t, OK, f.Create("candidate"))

	first := tree.New("", "")
	a := tree.New("urn:ex", "a")
	a.Body = "1"
	first.AddChild(a)
	_, err := f.Put("candidate", first, OpMerge)
	require.NoError(t, err)

	second := tree.New("", "")
	b := tree.New("urn:ex", "b")
	b.Body = "2"
	second.AddChild(b)
	_, err = f.Put("candidate", second, OpMerge)
	require.NoError(t, err)

	got, _ := f.Get("candidate", nil, ContentConfig, 0)
	require.NotNil(t, got.Child("a"))
	require.NotNil(t, got.Child("b"))
}

func TestPutCreateFailsIfExists(t *testing.T) {
	f := newTestFacade(t)
	require.Equal(t, OK, f.Create("candidate"))
	cfg := tree.New("", "")
	cfg.AddChild(tree.New("urn:ex", "a"))
	_, err := f.Put("candidate", cfg, OpCreate)
	require.NoError(t, err)

	res, err := f.Put("candidate", cfg, OpCreate)
	assert.Equal(t, Conflict, res)
	assert.Error(t, err)
}

func TestPutDeleteFailsIfAbsent(t *testing.T) {
	f := newTestFacade(t)
	require.Equal(t, OK, f.Create("candidate"))
	cfg := tree.New("", "")
	cfg.AddChild(tree.New("urn:ex", "nope"))
	res, err := f.Put("candidate", cfg, OpDelete)
	assert.Equal(t, NotFound, res)
	assert.Error(t, err)
}

func TestPutRemoveIsDeleteWithoutError(t *testing.T) {
	f := newTestFacade(t)
	require.Equal(t, OK, f.Create("candidate"))
	cfg := tree.New("", "")
	cfg.AddChild(tree.New("urn:ex", "nope"))
	res, err := f.Put("candidate", cfg, OpRemove)
	assert.Equal(t, OK, res)
	assert.NoError(t, err)
}

func TestLockMutualExclusion(t *testing.T) {
	f := newTestFacade(t)
	require.Equal(t, OK, f.Create("running"))

	holder, res := f.Lock("running", 1)
	require.Equal(t, OK, res)
	require.EqualValues(t, 1, holder)

	holder, res = f.Lock("running", 2)
	assert.Equal(t, Conflict, res)
	assert.EqualValues(t, 1, holder)

	assert.Equal(t, OK, f.Unlock("running", 1))
	holder, res = f.Lock("running", 2)
	assert.Equal(t, OK, res)
	assert.EqualValues(t, 2, holder)
}

func TestReleaseSessionLocksOnCrash(t *testing.T) {
	f := newTestFacade(t)
	require.Equal(t, OK, f.Create("running"))
	require.Equal(t, OK, f.Create("candidate"))
	f.Lock("running", 7)
	f.Lock("candidate", 7)

	f.ReleaseSessionLocks(7)

	_, held := f.LockHolder("running")
	assert.False(t, held)
	_, held = f.LockHolder("candidate")
	assert.False(t, held)
}

func TestPersistAndLoadXML(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	f := New(b)
	require.Equal(t, OK, f.Create("startup"))
	cfg := tree.New("", "")
	x := tree.New("urn:ex", "x")
	x.Body = "42"
	cfg.AddChild(x)
	_, err = f.Put("startup", cfg, OpMerge)
	require.NoError(t, err)
	require.NoError(t, f.Persist("startup"))

	// Simulate a restart: a fresh facade over the same backend directory.
	b2, err := NewFileBackend(dir)
	require.NoError(t, err)
	f2 := New(b2)
	// The persisted datastore already exists in the backend.
	require.Equal(t, Conflict, f2.Create("startup"))
	require.NoError(t, f2.Load("startup"))

	got, _ := f2.Get("startup", nil, ContentConfig, 0)
	assert.Equal(t, "42", got.Child("x").Body)
}
