// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package tree is a DOM-like ConfigTree: an ordered tree of elements,
// each carrying a namespace, name, attributes, body text, children, and
// an optional schema-link. A full XML tree library and XPath evaluator
// are deliberately kept out of this package and consumed elsewhere as a
// collaborator; this package is the minimal concrete substrate the
// Datastore/Validator/Commit components operate on, not a
// general-purpose XML/XPath engine.
package tree

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/yangconf/confd/schema"
)

// Element is one ConfigTree node.
type Element struct {
	Namespace  string
	Name       string
	Attributes map[string]string
	Body       string
	Children   []*Element

	// SchemaLink is non-nil iff this element's ancestor path is covered
	// by the loaded schema; un-linked leaves are rejected during
	// validation.
	SchemaLink schema.Node
}

// New creates a childless element.
func New(namespace, name string) *Element {
	return &Element{Namespace: namespace, Name: name}
}

// AddChild appends c, preserving document order.
func (e *Element) AddChild(c *Element) {
	e.Children = append(e.Children, c)
}

// Child returns the first child with the given name, or nil.
func (e *Element) Child(name string) *Element {
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every child with the given name, preserving order
// -- used for list entries and leaf-lists.
func (e *Element) ChildrenNamed(name string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Find descends by element name, ignoring namespace, returning nil if any
// segment of path is absent.
func (e *Element) Find(path []string) *Element {
	cur := e
	for _, p := range path {
		cur = cur.Child(p)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Clone deep-copies the subtree rooted at e. Datastores hand out clones
// so that copy is atomic from the caller's view: a caller holding a
// clone never observes a concurrent mutation of the original.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	out := &Element{
		Namespace:  e.Namespace,
		Name:       e.Name,
		Body:       e.Body,
		SchemaLink: e.SchemaLink,
	}
	if e.Attributes != nil {
		out.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			out.Attributes[k] = v
		}
	}
	for _, c := range e.Children {
		out.Children = append(out.Children, c.Clone())
	}
	return out
}

// Path reconstructs the element-name path of this node below root,
// relative to the (conventionally unnamed) document root, for use in
// error-path fields.
func Path(ancestors []*Element, leaf *Element) string {
	var b bytes.Buffer
	for _, a := range ancestors {
		if a.Name == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(a.Name)
	}
	if leaf != nil && leaf.Name != "" {
		b.WriteByte('/')
		b.WriteString(leaf.Name)
	}
	return b.String()
}

// --- XML encoding ---------------------------------------------------------

type xmlElement struct {
	XMLName  xml.Name
	Attrs    []xml.Attr   `xml:",any,attr"`
	Body     string       `xml:",chardata"`
	Children []xmlElement `xml:",any"`
}

// ParseXML decodes a namespace-qualified XML document into an Element
// tree rooted at the document element itself.
func ParseXML(data []byte) (*Element, error) {
	var root xmlElement
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("tree: parse error: %w", err)
	}
	return fromXMLElement(root), nil
}

func fromXMLElement(x xmlElement) *Element {
	e := &Element{
		Namespace: x.XMLName.Space,
		Name:      x.XMLName.Local,
		Body:      trimText(x.Body),
	}
	if len(x.Attrs) > 0 {
		e.Attributes = make(map[string]string, len(x.Attrs))
		for _, a := range x.Attrs {
			e.Attributes[a.Name.Local] = a.Value
		}
	}
	for _, c := range x.Children {
		e.Children = append(e.Children, fromXMLElement(c))
	}
	return e
}

func trimText(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// MarshalXML renders the subtree back to serialized XML, children in
// document order, for persistence and for the "xml" datastore format.
func (e *Element) MarshalXML() ([]byte, error) {
	var b bytes.Buffer
	if err := writeElement(&b, e, 0); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func writeElement(b *bytes.Buffer, e *Element, depth int) error {
	for i := 0; i < depth; i++ {
		b.WriteString("  ")
	}
	b.WriteByte('<')
	b.WriteString(e.Name)
	if e.Namespace != "" {
		b.WriteString(` xmlns="`)
		xml.EscapeText(b, []byte(e.Namespace))
		b.WriteByte('"')
	}
	for k, v := range e.Attributes {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteString(`="`)
		xml.EscapeText(b, []byte(v))
		b.WriteByte('"')
	}
	if len(e.Children) == 0 && e.Body == "" {
		b.WriteString("/>\n")
		return nil
	}
	b.WriteByte('>')
	if e.Body != "" {
		xml.EscapeText(b, []byte(e.Body))
	}
	if len(e.Children) > 0 {
		b.WriteByte('\n')
		for _, c := range e.Children {
			if err := writeElement(b, c, depth+1); err != nil {
				return err
			}
		}
		for i := 0; i < depth; i++ {
			b.WriteString("  ")
		}
	}
	b.WriteString("</")
	b.WriteString(e.Name)
	b.WriteString(">\n")
	return nil
}

// LinkSchema walks the subtree attaching a SchemaLink to each element that
// the model set covers, returning the elements that could
// not be linked (the caller turns these into unknown-element errors --
// see package validator). This is the concrete enforcement of the
// schema-link invariant.
func LinkSchema(root *Element, model schema.ModelSet) (unlinked []*Element) {
	var walk func(e *Element, parent schema.Node)
	walk = func(e *Element, parent schema.Node) {
		var node schema.Node
		if parent == nil {
			node = model.Root().Child(e.Name)
		} else {
			node = parent.Child(e.Name)
		}
		if node == nil {
			unlinked = append(unlinked, e)
			return
		}
		e.SchemaLink = node
		for _, c := range e.Children {
			walk(c, node)
		}
	}
	for _, c := range root.Children {
		walk(c, nil)
	}
	return unlinked
}
