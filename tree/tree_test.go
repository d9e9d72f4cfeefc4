// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSample() *Element {
	root := New("", "")
	x := New("urn:ex", "x")
	x.Body = "7"
	root.AddChild(x)
	return root
}

func TestCloneIsIndependent(t *testing.T) {
	root := buildSample()
	clone := root.Clone()
	clone.Child("x").Body = "9"
	assert.Equal(t, "7", root.Child("x").Body)
	assert.Equal(t, "9", clone.Child("x").Body)
}

func TestFindDescendsByName(t *testing.T) {
	root := New("", "")
	cont := New("urn:ex", "cont")
	leaf := New("urn:ex", "leaf")
	leaf.Body = "v"
	cont.AddChild(leaf)
	root.AddChild(cont)

	found := root.Find([]string{"cont", "leaf"})
	require.NotNil(t, found)
	assert.Equal(t, "v", found.Body)
	assert.Nil(t, root.Find([]string{"cont", "nope"}))
}

func TestParseXMLReturnsDocumentElement(t *testing.T) {
	doc := []byte(`<x xmlns="urn:ex">7</x>`)
	el, err := ParseXML(doc)
	require.NoError(t, err)
	assert.Equal(t, "x", el.Name)
	assert.Equal(t, "urn:ex", el.Namespace)
	assert.Equal(t, "7", el.Body)
}

func TestMarshalXMLEscapesBody(t *testing.T) {
	e := New("urn:ex", "x")
	e.Body = "<a>&b"
	out, err := e.MarshalXML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "&lt;a&gt;&amp;b")
}
