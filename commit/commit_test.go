// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package commit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yangconf/confd/datastore"
	"github.com/yangconf/confd/schema"
	"github.com/yangconf/confd/tree"
)

// permissiveModel accepts any tree unconditionally -- the commit engine's
// own tests care about the commit sequence, not validator coverage
// (that lives in package validator).
type permissiveNode struct{}

func (permissiveNode) Name() string               { return "" }
func (permissiveNode) Namespace() string          { return "" }
func (permissiveNode) Kind() schema.Kind          { return schema.KindContainer }
func (permissiveNode) Mandatory() bool            { return false }
func (permissiveNode) Children() []schema.Node    { return nil }
func (permissiveNode) Child(string) schema.Node   { return permissiveNode{} }
func (permissiveNode) Keys() []string             { return nil }
func (permissiveNode) MinElements() int           { return 0 }
func (permissiveNode) MaxElements() int           { return 0 }
func (permissiveNode) Unique() [][]string         { return nil }
func (permissiveNode) Type() schema.Type          { return nil }
func (permissiveNode) Musts() []schema.Constraint { return nil }
func (permissiveNode) Whens() []schema.Constraint { return nil }

type permissiveModel struct{}

func (permissiveModel) Modules() []string { return nil }
func (permissiveModel) Root() schema.Node { return permissiveNode{} }
func (permissiveModel) FindNode([]string) (schema.Node, bool) {
	return permissiveNode{}, true
}

func newTestEngine(t *testing.T) (*Engine, *datastore.Facade) {
	t.Helper()
	b, err := datastore.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	f := datastore.New(b)
	require.Equal(t, datastore.OK, f.Create("running"))
	require.Equal(t, datastore.OK, f.Create("candidate"))
	return NewEngine(f, permissiveModel{}, "running"), f
}

type recordingPlugin struct {
	NopPlugin
	name        string
	failCommit  bool
	commitCalls int
	abortCalls  int
}

func (p *recordingPlugin) Name() string { return p.name }
func (p *recordingPlugin) Commit(d []DiffOp) error {
	p.commitCalls++
	if p.failCommit {
		return errors.New("boom")
	}
	return nil
}
func (p *recordingPlugin) Abort(d []DiffOp) { p.abortCalls++ }

func TestCommitPromotesCandidateIntoRunning(t *testing.T) {
	e, f := newTestEngine(t)
	cfg := tree.New("", "")
	x := tree.New("urn:ex", "x")
	x.Body = "1"
	cfg.AddChild(x)
	_, err := f.Put("candidate", cfg, datastore.OpMerge)
	require.NoError(t, err)

	res := e.Commit("candidate")
	require.Equal(t, StatusOK, res.Status)

	got, _ := f.Get("running", nil, datastore.ContentConfig, 0)
	assert.Equal(t, "1", got.Child("x").Body)
}

func TestCommitAbortsOnPluginFailureAndRestoresRunning(t *testing.T) {
	e, f := newTestEngine(t)

	base := tree.New("", "")
	base.AddChild(tree.New("urn:ex", "orig"))
	_, err := f.Put("running", base, datastore.OpMerge)
	require.NoError(t, err)

	failing := &recordingPlugin{name: "bad", failCommit: true}
	e.Register(failing)

	cfg := tree.New("", "")
	cfg.AddChild(tree.New("urn:ex", "new"))
	_, err = f.Put("candidate", cfg, datastore.OpMerge)
	require.NoError(t, err)

	res := e.Commit("candidate")
	assert.Equal(t, StatusErr, res.Status)
	require.Len(t, res.Errors, 1)

	got, _ := f.Get("running", nil, datastore.ContentConfig, 0)
	assert.NotNil(t, got.Child("orig"))
	assert.Nil(t, got.Child("new"))
}

func TestCommitAbortsOnlyPluginsWhoseCommitSucceeded(t *testing.T) {
	e, f := newTestEngine(t)
	first := &recordingPlugin{name: "first"}
	second := &recordingPlugin{name: "second", failCommit: true}
	e.Register(first)
	e.Register(second)

	cfg := tree.New("", "")
	cfg.AddChild(tree.New("urn:ex", "x"))
	_, err := f.Put("candidate", cfg, datastore.OpMerge)
	require.NoError(t, err)

	res := e.Commit("candidate")
	assert.Equal(t, StatusErr, res.Status)
	assert.Equal(t, 1, first.commitCalls)
	assert.Equal(t, 1, first.abortCalls)
	assert.Equal(t, 1, second.commitCalls)
	assert.Equal(t, 0, second.abortCalls) // second never "returned ok"
}

func TestCommitPublishesChangeNotification(t *testing.T) {
	e, f := newTestEngine(t)
	cfg := tree.New("", "")
	cfg.AddChild(tree.New("urn:ex", "x"))
	_, err := f.Put("candidate", cfg, datastore.OpMerge)
	require.NoError(t, err)

	res := e.Commit("candidate")
	require.Equal(t, StatusOK, res.Status)

	select {
	case n := <-e.Events():
		assert.Equal(t, "running", n.Datastore)
		assert.NotEmpty(t, n.Diff)
	default:
		t.Fatal("expected a change notification")
	}
}

func TestStartupInitCreatesEmptyRunning(t *testing.T) {
	e, f := newTestEngine(t)
	status, errs := e.Startup(StartupInit, "", "")
	require.Equal(t, StartupOK, status)
	assert.Empty(t, errs)

	got, _ := f.Get("running", nil, datastore.ContentConfig, 0)
	assert.Empty(t, got.Children)
}
