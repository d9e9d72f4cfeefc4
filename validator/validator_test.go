// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yangconf/confd/schema"
	"github.com/yangconf/confd/tree"
)

// fakeType and fakeNode give the validator a minimal schema.ModelSet
// double to exercise against, without depending on goyang or real YANG
// text.

type fakeType struct {
	name       string
	min, max   int64
	hasRange   bool
	pattern    string
	hasPattern bool
	leafref    string
	hasLeafref bool
}

func (t *fakeType) Name() string               { return t.name }
func (t *fakeType) Range() (int64, int64, bool) { return t.min, t.max, t.hasRange }
func (t *fakeType) Pattern() (string, bool)     { return t.pattern, t.hasPattern }
func (t *fakeType) Leafref() (string, bool)     { return t.leafref, t.hasLeafref }

type fakeNode struct {
	name      string
	kind      schema.Kind
	mandatory bool
	children  []*fakeNode
	keys      []string
	min, max  int
	unique    [][]string
	typ       *fakeType
}

func (n *fakeNode) Name() string      { return n.name }
func (n *fakeNode) Namespace() string { return "urn:ex" }
func (n *fakeNode) Kind() schema.Kind { return n.kind }
func (n *fakeNode) Mandatory() bool   { return n.mandatory }
func (n *fakeNode) Children() []schema.Node {
	out := make([]schema.Node, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}
func (n *fakeNode) Child(name string) schema.Node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}
func (n *fakeNode) Keys() []string     { return n.keys }
func (n *fakeNode) MinElements() int   { return n.min }
func (n *fakeNode) MaxElements() int   { return n.max }
func (n *fakeNode) Unique() [][]string { return n.unique }
func (n *fakeNode) Type() schema.Type {
	if n.typ == nil {
		return nil
	}
	return n.typ
}
func (n *fakeNode) Musts() []schema.Constraint { return nil }
func (n *fakeNode) Whens() []schema.Constraint { return nil }

type fakeModel struct {
	root *fakeNode
}

func (m *fakeModel) Modules() []string { return []string{"test"} }
func (m *fakeModel) Root() schema.Node { return m.root }
func (m *fakeModel) FindNode(path []string) (schema.Node, bool) {
	var cur schema.Node = m.root
	for _, p := range path {
		cur = cur.Child(p)
		if cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func TestValidateReportsUnknownElement(t *testing.T) {
	root := tree.New("", "")
	root.AddChild(tree.New("urn:ex", "bogus"))

	model := &fakeModel{root: &fakeNode{kind: schema.KindContainer}}
	errs := Validate(root, model, Options{})
	require.Len(t, errs, 1)
	assert.Equal(t, "unknown-element", errs[0].Tag)
}

func TestValidateReportsMissingMandatory(t *testing.T) {
	root := tree.New("", "")
	model := &fakeModel{root: &fakeNode{
		kind: schema.KindContainer,
		children: []*fakeNode{
			{name: "required", kind: schema.KindLeaf, mandatory: true},
		},
	}}
	errs := Validate(root, model, Options{})
	require.Len(t, errs, 1)
	assert.Equal(t, "missing-element", errs[0].Tag)
}

func TestValidateReportsTooFewElements(t *testing.T) {
	root := tree.New("", "")
	// No "item" entries present at all, so min-elements=2 is violated.
	listNode := &fakeNode{name: "item", kind: schema.KindList, min: 2}
	model := &fakeModel{root: &fakeNode{kind: schema.KindContainer, children: []*fakeNode{listNode}}}

	errs := Validate(root, model, Options{})
	found := false
	for _, e := range errs {
		if e.AppTag == "too-few-elements" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateTypeRangeViolation(t *testing.T) {
	root := tree.New("", "")
	n := tree.New("urn:ex", "port")
	n.Body = "99999"
	root.AddChild(n)

	leafType := &fakeType{name: "int32", min: 1, max: 65535, hasRange: true}
	model := &fakeModel{root: &fakeNode{
		kind: schema.KindContainer,
		children: []*fakeNode{
			{name: "port", kind: schema.KindLeaf, typ: leafType},
		},
	}}
	errs := Validate(root, model, Options{})
	require.Len(t, errs, 1)
	assert.Equal(t, "invalid-value", errs[0].Tag)
}

func TestValidateCap(t *testing.T) {
	root := tree.New("", "")
	for i := 0; i < 10; i++ {
		root.AddChild(tree.New("urn:ex", "bogus"))
	}
	model := &fakeModel{root: &fakeNode{kind: schema.KindContainer}}
	errs := Validate(root, model, Options{Cap: 3})
	assert.Len(t, errs, 3)
}
