// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package schema is the opaque YANG schema API the rest of this backend
// consumes. The YANG parser and schema representation are deliberately
// kept out of this package's core; it only defines the surface the
// Validator and Datastore need (modules, nodes, types, keys, extensions).
// The concrete implementation in schema/goyang compiles real .yang text
// with a third-party parser; a caller could equally plug in any other
// compiler behind this interface.
package schema

// Kind discriminates the YANG statement a Node represents.
type Kind int

const (
	KindContainer Kind = iota
	KindList
	KindLeaf
	KindLeafList
	KindChoice
	KindCase
)

func (k Kind) String() string {
	switch k {
	case KindContainer:
		return "container"
	case KindList:
		return "list"
	case KindLeaf:
		return "leaf"
	case KindLeafList:
		return "leaf-list"
	case KindChoice:
		return "choice"
	case KindCase:
		return "case"
	}
	return "unknown"
}

// Constraint is a single must/when statement attached to a node.
type Constraint struct {
	XPath        string
	ErrorAppTag  string
	ErrorMessage string
}

// Type describes the leaf/leaf-list type restrictions the Validator needs.
type Type interface {
	Name() string
	// Range reports an integer range restriction, if any.
	Range() (min, max int64, ok bool)
	// Pattern reports a regexp pattern restriction, if any.
	Pattern() (pattern string, ok bool)
	// Leafref reports the XPath of a leafref's target, if this type is one.
	Leafref() (path string, ok bool)
}

// Node is one element of the compiled schema tree.
type Node interface {
	Name() string
	Namespace() string
	Kind() Kind
	Mandatory() bool
	Children() []Node
	Child(name string) Node
	// Keys names the key leaves, in order, for a List node.
	Keys() []string
	// MinElements/MaxElements apply to List/LeafList nodes; 0 MaxElements
	// means unbounded.
	MinElements() int
	MaxElements() int
	// Unique returns each unique-statement's set of leaf paths (relative
	// to a list entry), one []string per unique statement.
	Unique() [][]string
	Type() Type
	Musts() []Constraint
	Whens() []Constraint
}

// ModelSet is the compiled form of one or more YANG modules.
type ModelSet interface {
	Modules() []string
	Root() Node
	// FindNode resolves an absolute schema-node path (element names, no
	// predicates) to its Node, reporting false if no such node exists --
	// this is the schema-link test every configuration element must pass.
	FindNode(path []string) (Node, bool)
}
