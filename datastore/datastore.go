// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package datastore implements the typed key/value Facade over named
// configuration instances (candidate, running, startup, tmp, failsafe).
// It is pluggable storage on the outside (the Backend interface) and a
// namespace-aware ConfigTree (package tree) on the inside.
package datastore

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	"github.com/yangconf/confd/mgmterror"
	"github.com/yangconf/confd/tree"
)

// Result is the coarse outcome every Facade operation reports.
type Result int

const (
	OK Result = iota
	NotFound
	Conflict
	Fatal
)

// Content scopes a get() to configuration data, operational (non-config)
// data, or both.
type Content int

const (
	ContentConfig Content = iota
	ContentNonConfig
	ContentAll
)

// PutOp is the NETCONF edit-config operation attribute.
type PutOp int

const (
	OpMerge PutOp = iota
	OpReplace
	OpCreate
	OpDelete
	OpRemove
	OpNone
)

// Format is the persisted-file encoding.
type Format int

const (
	FormatXML Format = iota
	FormatCompact
)

// Facade is the datastore set shared by one backend process.
type Facade struct {
	mu      sync.Mutex
	backend Backend
	trees   map[string]*tree.Element
	locks   map[string]int32 // datastore name -> holding session id (0 = unlocked)

	cache        *lru.Cache[string, *tree.Element]
	cacheEnabled bool
	format       Format
	pretty       bool
}

// New creates a Facade backed by b with caching enabled and XML format.
func New(b Backend) *Facade {
	cache, _ := lru.New[string, *tree.Element](32)
	return &Facade{
		backend:      b,
		trees:        make(map[string]*tree.Element),
		locks:        make(map[string]int32),
		cache:        cache,
		cacheEnabled: true,
		format:       FormatXML,
	}
}

// Exists reports whether name has been created.
func (f *Facade) Exists(name string) (bool, Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.trees[name]; ok {
		return true, OK
	}
	_, found, err := f.backend.Read(name)
	if err != nil {
		return false, Fatal
	}
	return found, OK
}

// Create makes an empty datastore named name; it is a conflict if one
// already exists.
func (f *Facade) Create(name string) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.trees[name]; ok {
		return Conflict
	}
	if _, found, err := f.backend.Read(name); err != nil {
		return Fatal
	} else if found {
		return Conflict
	}
	f.trees[name] = tree.New("", "")
	return OK
}

// Delete removes name entirely, from cache, memory and backend.
func (f *Facade) Delete(name string) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.trees[name]; !ok {
		return NotFound
	}
	delete(f.trees, name)
	delete(f.locks, name)
	f.cache.Remove(name)
	if err := f.backend.Remove(name); err != nil {
		return Fatal
	}
	return OK
}

// Copy duplicates src's current tree into dst, replacing whatever dst held.
// The swap happens under the facade mutex so observers see either the old
// or new dst tree, never a partial one.
func (f *Facade) Copy(src, dst string) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.trees[src]
	if !ok {
		return NotFound
	}
	f.trees[dst] = s.Clone()
	f.cache.Remove(dst)
	return OK
}

// Get renders the tree at name through the given top-level path, per the
// requested content scope. depth<=0 means unlimited. When caching is
// enabled, the read-through cache is consulted first; a miss falls back
// to the in-memory tree and populates the cache for the next reader.
func (f *Facade) Get(name string, path []string, content Content, depth int) (*tree.Element, Result) {
	f.mu.Lock()
	var t *tree.Element
	var ok bool
	if f.cacheEnabled {
		t, ok = f.cache.Get(name)
	}
	if !ok {
		t, ok = f.trees[name]
		if ok && f.cacheEnabled {
			f.cache.Add(name, t)
		}
	}
	f.mu.Unlock()
	if !ok {
		return nil, NotFound
	}
	root := t
	if len(path) > 0 {
		root = t.Find(path)
		if root == nil {
			return nil, NotFound
		}
	}
	out := limitDepth(root, depth)
	return out, OK
}

func limitDepth(e *tree.Element, depth int) *tree.Element {
	if depth <= 0 {
		return e.Clone()
	}
	return limitDepthN(e, depth)
}

func limitDepthN(e *tree.Element, n int) *tree.Element {
	out := &tree.Element{Namespace: e.Namespace, Name: e.Name, Body: e.Body, SchemaLink: e.SchemaLink}
	if e.Attributes != nil {
		out.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			out.Attributes[k] = v
		}
	}
	if n <= 1 {
		return out
	}
	for _, c := range e.Children {
		out.Children = append(out.Children, limitDepthN(c, n-1))
	}
	return out
}

// Put applies an edit-config style change to name's tree. Each top-level
// child of config is applied independently, matched by element name
// against name's tree.
func (f *Facade) Put(name string, config *tree.Element, op PutOp) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.trees[name]
	if !ok {
		return NotFound, nil
	}
	if op == OpNone {
		return OK, nil
	}
	for _, child := range config.Children {
		res, err := applyOp(t, child, op)
		if res != OK {
			return res, err
		}
	}
	f.cache.Remove(name)
	return OK, nil
}

func applyOp(parent *tree.Element, incoming *tree.Element, op PutOp) (Result, error) {
	existing := parent.Child(incoming.Name)
	switch op {
	case OpCreate:
		if existing != nil {
			return Conflict, mgmterror.NewDataExistsError(incoming.Name)
		}
		parent.AddChild(incoming.Clone())
		return OK, nil
	case OpDelete:
		if existing == nil {
			return NotFound, mgmterror.NewDataMissingError(incoming.Name)
		}
		removeChild(parent, incoming.Name)
		return OK, nil
	case OpRemove:
		if existing != nil {
			removeChild(parent, incoming.Name)
		}
		return OK, nil
	case OpReplace:
		if existing != nil {
			removeChild(parent, incoming.Name)
		}
		parent.AddChild(incoming.Clone())
		return OK, nil
	case OpMerge:
		fallthrough
	default:
		if existing == nil {
			parent.AddChild(incoming.Clone())
			return OK, nil
		}
		mergeInto(existing, incoming)
		return OK, nil
	}
}

// mergeInto adds or updates existing's children from incoming, without
// removing any sibling existing did not mention.
func mergeInto(existing, incoming *tree.Element) {
	if len(incoming.Children) == 0 {
		existing.Body = incoming.Body
		return
	}
	for _, c := range incoming.Children {
		if e := existing.Child(c.Name); e != nil {
			mergeInto(e, c)
		} else {
			existing.AddChild(c.Clone())
		}
	}
}

func removeChild(parent *tree.Element, name string) {
	out := parent.Children[:0]
	for _, c := range parent.Children {
		if c.Name != name {
			out = append(out, c)
		}
	}
	parent.Children = out
}

// Lock grants name's advisory lock to sessionID. It is logical, not a
// mutex: enforced by the Dispatcher refusing writes from any other
// session while held.
func (f *Facade) Lock(name string, sessionID int32) (int32, Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if holder, ok := f.locks[name]; ok && holder != 0 {
		return holder, Conflict
	}
	f.locks[name] = sessionID
	return sessionID, OK
}

func (f *Facade) Unlock(name string, sessionID int32) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	holder, ok := f.locks[name]
	if !ok || holder == 0 {
		return NotFound
	}
	if holder != sessionID {
		return Conflict
	}
	delete(f.locks, name)
	return OK
}

// LockHolder reports who (if anyone) holds name's lock.
func (f *Facade) LockHolder(name string) (int32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.locks[name]
	return h, ok && h != 0
}

// ReleaseSessionLocks drops every lock sessionID holds -- locks are
// released on session termination even if the session crashed.
func (f *Facade) ReleaseSessionLocks(sessionID int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, holder := range f.locks {
		if holder == sessionID {
			delete(f.locks, name)
		}
	}
}

// SetOpt sets one of {cache, pretty-print, format}.
func (f *Facade) SetOpt(key string, val interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch key {
	case "cache":
		b, ok := val.(bool)
		if !ok {
			return fmt.Errorf("datastore: cache option expects bool, got %T", val)
		}
		f.cacheEnabled = b
	case "pretty-print":
		b, ok := val.(bool)
		if !ok {
			return fmt.Errorf("datastore: pretty-print option expects bool, got %T", val)
		}
		f.pretty = b
	case "format":
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("datastore: format option expects string, got %T", val)
		}
		switch s {
		case "xml":
			f.format = FormatXML
		case "compact":
			f.format = FormatCompact
		default:
			return fmt.Errorf("datastore: unknown format %q", s)
		}
	default:
		return fmt.Errorf("datastore: unknown option %q", key)
	}
	return nil
}

// Persist serializes name's in-memory tree through the backend and then
// writes it through to the cache (which every Put/Copy/Delete that
// targets name invalidates). In the XML format the nameless root is
// written as a <config> element so the file is one well-formed document.
func (f *Facade) Persist(name string) error {
	f.mu.Lock()
	t, ok := f.trees[name]
	format := f.format
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("datastore: %s does not exist", name)
	}

	var data []byte
	var err error
	switch format {
	case FormatCompact:
		data, err = yaml.Marshal(elementToYAMLValue(t))
	default:
		data, err = (&tree.Element{Name: "config", Children: t.Children}).MarshalXML()
	}
	if err != nil {
		return err
	}

	if err := f.backend.Write(name, data); err != nil {
		return err
	}
	if f.cacheEnabled {
		f.mu.Lock()
		f.cache.Add(name, t)
		f.mu.Unlock()
	}
	return nil
}

// Load restores name's tree from the backend, decoding with the format
// set via SetOpt.
func (f *Facade) Load(name string) error {
	data, found, err := f.backend.Read(name)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !found {
		f.trees[name] = tree.New("", "")
		return nil
	}
	switch f.format {
	case FormatCompact:
		var v map[string]interface{}
		if err := yaml.Unmarshal(data, &v); err != nil {
			return err
		}
		f.trees[name] = yamlValueToElement("", v)
	default:
		el, err := tree.ParseXML(data)
		if err != nil {
			return err
		}
		el.Name = "" // the <config> wrapper written by Persist
		f.trees[name] = el
	}
	return nil
}

func elementToYAMLValue(e *tree.Element) map[string]interface{} {
	out := make(map[string]interface{})
	for _, c := range e.Children {
		if len(c.Children) == 0 {
			out[c.Name] = c.Body
		} else {
			out[c.Name] = elementToYAMLValue(c)
		}
	}
	return out
}

func yamlValueToElement(name string, v map[string]interface{}) *tree.Element {
	root := tree.New("", name)
	for k, val := range v {
		switch tv := val.(type) {
		case map[string]interface{}:
			root.AddChild(yamlValueToElement(k, tv))
		default:
			c := tree.New("", k)
			c.Body = fmt.Sprint(tv)
			root.AddChild(c)
		}
	}
	return root
}
