// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package goyang is the concrete schema loader behind schema.ModelSet,
// compiling real YANG source with github.com/openconfig/goyang -- the
// YANG parser itself is someone else's module; we only adapt its
// compiled *yang.Entry tree onto the schema.Node interface the Validator
// consumes.
package goyang

import (
	"fmt"

	"github.com/openconfig/goyang/pkg/yang"

	"github.com/yangconf/confd/schema"
)

// Load compiles the named top-level YANG modules (found via dirs, which
// are added to goyang's include path) into a schema.ModelSet.
func Load(dirs []string, moduleNames []string) (schema.ModelSet, error) {
	ms := yang.NewModules()
	for _, d := range dirs {
		ms.AddPath(d)
	}
	for _, name := range moduleNames {
		if err := ms.Read(name); err != nil {
			return nil, fmt.Errorf("goyang: reading module %s: %w", name, err)
		}
	}
	if errs := ms.Process(); len(errs) > 0 {
		return nil, fmt.Errorf("goyang: compiling modules: %v", errs)
	}

	roots := make([]*yang.Entry, 0, len(moduleNames))
	for _, name := range moduleNames {
		m, ok := ms.Modules[name]
		if !ok {
			return nil, fmt.Errorf("goyang: module %s not found after compile", name)
		}
		roots = append(roots, yang.ToEntry(m))
	}
	return newModelSet(moduleNames, roots), nil
}

type modelSet struct {
	modules []string
	root    *node
}

func newModelSet(modules []string, roots []*yang.Entry) *modelSet {
	merged := &yang.Entry{Name: "", Dir: map[string]*yang.Entry{}}
	for _, r := range roots {
		for k, v := range r.Dir {
			merged.Dir[k] = v
		}
	}
	return &modelSet{modules: modules, root: &node{entry: merged}}
}

func (m *modelSet) Modules() []string { return m.modules }
func (m *modelSet) Root() schema.Node { return m.root }

func (m *modelSet) FindNode(path []string) (schema.Node, bool) {
	cur := schema.Node(m.root)
	for _, p := range path {
		cur = cur.Child(p)
		if cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// node adapts a *yang.Entry onto schema.Node.
type node struct {
	entry *yang.Entry
}

func (n *node) Name() string { return n.entry.Name }

func (n *node) Namespace() string {
	if ns := n.entry.Namespace(); ns != nil {
		return ns.Name
	}
	return ""
}

func (n *node) Kind() schema.Kind {
	switch {
	case n.entry.IsList():
		return schema.KindList
	case n.entry.IsLeafList():
		return schema.KindLeafList
	case n.entry.IsChoice():
		return schema.KindChoice
	case n.entry.IsCase():
		return schema.KindCase
	case n.entry.IsLeaf():
		return schema.KindLeaf
	default:
		return schema.KindContainer
	}
}

func (n *node) Mandatory() bool {
	return n.entry.Mandatory == yang.TSTrue
}

func (n *node) Children() []schema.Node {
	out := make([]schema.Node, 0, len(n.entry.Dir))
	for _, c := range n.entry.Dir {
		out = append(out, &node{entry: c})
	}
	return out
}

func (n *node) Child(name string) schema.Node {
	c, ok := n.entry.Dir[name]
	if !ok {
		return nil
	}
	return &node{entry: c}
}

func (n *node) Keys() []string {
	if n.entry.Key == "" {
		return nil
	}
	return splitFields(n.entry.Key)
}

func (n *node) MinElements() int {
	if n.entry.ListAttr == nil || n.entry.ListAttr.MinElements == nil {
		return 0
	}
	return int(*n.entry.ListAttr.MinElements)
}

func (n *node) MaxElements() int {
	if n.entry.ListAttr == nil || n.entry.ListAttr.MaxElements == nil {
		return 0
	}
	return int(*n.entry.ListAttr.MaxElements)
}

func (n *node) Unique() [][]string {
	if n.entry.ListAttr == nil {
		return nil
	}
	out := make([][]string, 0, len(n.entry.ListAttr.Unique))
	for _, u := range n.entry.ListAttr.Unique {
		out = append(out, splitFields(u))
	}
	return out
}

func (n *node) Type() schema.Type {
	if n.entry.Type == nil {
		return nil
	}
	return &yangType{t: n.entry.Type}
}

func (n *node) Musts() []schema.Constraint {
	return constraintsOf(n.entry.Musts)
}

func (n *node) Whens() []schema.Constraint {
	if n.entry.WhenStatement() == "" {
		return nil
	}
	return []schema.Constraint{{XPath: n.entry.WhenStatement()}}
}

func constraintsOf(musts []*yang.Must) []schema.Constraint {
	out := make([]schema.Constraint, 0, len(musts))
	for _, m := range musts {
		c := schema.Constraint{XPath: m.Name}
		if m.ErrorAppTag != nil {
			c.ErrorAppTag = m.ErrorAppTag.Name
		}
		if m.ErrorMessage != nil {
			c.ErrorMessage = m.ErrorMessage.Name
		}
		out = append(out, c)
	}
	return out
}

type yangType struct {
	t *yang.YangType
}

func (y *yangType) Name() string { return y.t.Name }

func (y *yangType) Range() (int64, int64, bool) {
	if y.t.Range == nil || len(y.t.Range) == 0 {
		return 0, 0, false
	}
	return y.t.Range[0].Min.Value, y.t.Range[len(y.t.Range)-1].Max.Value, true
}

func (y *yangType) Pattern() (string, bool) {
	if len(y.t.Pattern) == 0 {
		return "", false
	}
	return y.t.Pattern[0], true
}

func (y *yangType) Leafref() (string, bool) {
	if y.t.Kind != yang.Yleafref || y.t.Path == "" {
		return "", false
	}
	return y.t.Path, true
}

func splitFields(s string) []string {
	var out []string
	field := ""
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if field != "" {
				out = append(out, field)
				field = ""
			}
			continue
		}
		field += string(r)
	}
	if field != "" {
		out = append(out, field)
	}
	return out
}
