// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package validator implements the structural, type, cardinality,
// uniqueness, leafref and constraint checks a configuration tree must
// pass before it can be committed. It reports every violation it finds
// in document order rather than stopping at the first, up to an
// implementation-defined cap.
package validator

import (
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/multierr"

	"github.com/yangconf/confd/mgmterror"
	"github.com/yangconf/confd/schema"
	"github.com/yangconf/confd/tree"
)

// defaultCap bounds how many errors Validate collects before it stops
// descending further.
const defaultCap = 200

// XPathEvaluator is a deliberately external collaborator: the XPath
// evaluator that resolves must/when predicates against a node's
// context. Validate runs with must/when checking disabled when Evaluator
// is nil -- every other rule still runs.
type XPathEvaluator interface {
	Eval(ctx *tree.Element, root *tree.Element, expr string) (bool, error)
}

// Options configures one Validate call.
type Options struct {
	Cap      int
	Evaluator XPathEvaluator
}

// Validate enforces every structural, type, cardinality, uniqueness,
// leafref and must/when rule against tree, reporting every violation
// found (document order) rather than short-circuiting.
func Validate(root *tree.Element, model schema.ModelSet, opts Options) []*mgmterror.MgmtError {
	if opts.Cap <= 0 {
		opts.Cap = defaultCap
	}
	v := &validation{model: model, opts: opts}

	unlinked := tree.LinkSchema(root, model)
	for _, u := range unlinked {
		v.add(mgmterror.NewUnknownElementError(mgmterror.TypeApplication, u.Name))
	}

	v.walk(root, nil, model.Root())
	return v.errs
}

type validation struct {
	model schema.ModelSet
	opts  Options
	errs  []*mgmterror.MgmtError
}

func (v *validation) full() bool {
	return len(v.errs) >= v.opts.Cap
}

func (v *validation) add(e *mgmterror.MgmtError) {
	if v.full() {
		return
	}
	v.errs = append(v.errs, e)
}

// walk descends e's schema-linked children, checking cardinality,
// uniqueness, type, mandatory and leafref rules at each level.
func (v *validation) walk(e *tree.Element, ancestors []*tree.Element, sn schema.Node) {
	if v.full() || sn == nil {
		return
	}

	v.checkMandatory(e, sn)
	v.checkCardinality(e, sn)
	v.checkUnique(e, sn)

	for _, c := range e.Children {
		if v.full() {
			return
		}
		if c.SchemaLink == nil {
			continue // already reported as unknown-element
		}
		path := tree.Path(ancestors, e)
		v.checkType(c, path)
		v.checkLeafref(c, path)
		v.checkMustWhen(c, path)
		v.walk(c, append(append([]*tree.Element{}, ancestors...), e), c.SchemaLink)
	}
}

// checkMandatory enforces rule 3: every mandatory child of sn must be
// present among e's children (and mandatory choices must have a case
// selected).
func (v *validation) checkMandatory(e *tree.Element, sn schema.Node) {
	for _, child := range sn.Children() {
		path := e.Name + "/" + child.Name()
		switch child.Kind() {
		case schema.KindChoice:
			if child.Mandatory() && !anyCaseSelected(e, child) {
				v.add(mgmterror.NewMissingChoiceError(e.Name, child.Name()))
			}
		default:
			if child.Mandatory() && e.Child(child.Name()) == nil {
				err := mgmterror.NewMissingElementError(mgmterror.TypeApplication, child.Name())
				err.Path = path
				v.add(err)
			}
		}
	}
}

func anyCaseSelected(e *tree.Element, choice schema.Node) bool {
	for _, c := range choice.Children() { // case nodes
		for _, leaf := range c.Children() {
			if e.Child(leaf.Name()) != nil {
				return true
			}
		}
	}
	return false
}

// checkCardinality enforces rule 4: min-elements/max-elements on list and
// leaf-list nodes.
func (v *validation) checkCardinality(e *tree.Element, sn schema.Node) {
	for _, child := range sn.Children() {
		if child.Kind() != schema.KindList && child.Kind() != schema.KindLeafList {
			continue
		}
		n := len(e.ChildrenNamed(child.Name()))
		path := e.Name + "/" + child.Name()
		if min := child.MinElements(); min > 0 && n < min {
			v.add(mgmterror.NewTooFewElementsError(path))
		}
		if max := child.MaxElements(); max > 0 && n > max {
			v.add(mgmterror.NewTooManyElementsError(path))
		}
	}
}

// checkUnique enforces rule 5: each unique statement on a list must hold
// across all of that list's entries present in e.
func (v *validation) checkUnique(e *tree.Element, sn schema.Node) {
	for _, child := range sn.Children() {
		if child.Kind() != schema.KindList {
			continue
		}
		entries := e.ChildrenNamed(child.Name())
		for _, uniqueLeaves := range child.Unique() {
			seen := make(map[string][]string)
			for i, entry := range entries {
				key := uniqueKey(entry, uniqueLeaves)
				path := fmt.Sprintf("%s/%s[%d]", e.Name, child.Name(), i+1)
				seen[key] = append(seen[key], path)
			}
			for key, paths := range seen {
				if key != "" && len(paths) > 1 {
					v.add(mgmterror.NewDataNotUniqueError(e.Name+"/"+child.Name(), paths))
				}
			}
		}
	}
}

func uniqueKey(entry *tree.Element, leaves []string) string {
	key := ""
	for _, l := range leaves {
		if leaf := entry.Child(l); leaf != nil {
			key += leaf.Body + "\x00"
		} else {
			return ""
		}
	}
	return key
}

var integerRangeKinds = map[string]bool{
	"int8": true, "int16": true, "int32": true, "int64": true,
	"uint8": true, "uint16": true, "uint32": true, "uint64": true,
}

// checkType enforces rule 2: range/pattern restrictions on leaf values.
func (v *validation) checkType(e *tree.Element, parentPath string) {
	sn := e.SchemaLink
	if sn.Kind() != schema.KindLeaf && sn.Kind() != schema.KindLeafList {
		return
	}
	t := sn.Type()
	if t == nil {
		return
	}
	path := parentPath + "/" + e.Name

	if integerRangeKinds[t.Name()] {
		if min, max, ok := t.Range(); ok {
			n, err := strconv.ParseInt(e.Body, 10, 64)
			if err != nil || n < min || n > max {
				merr := mgmterror.NewInvalidValueError(mgmterror.TypeApplication,
					fmt.Sprintf("value %q out of range [%d,%d] for %s", e.Body, min, max, t.Name()))
				merr.Path = path
				v.add(merr)
				return
			}
		}
	}
	if pattern, ok := t.Pattern(); ok {
		re, err := regexp.Compile(pattern)
		if err == nil && !re.MatchString(e.Body) {
			merr := mgmterror.NewInvalidValueError(mgmterror.TypeApplication,
				fmt.Sprintf("value %q does not match pattern %q", e.Body, pattern))
			merr.Path = path
			v.add(merr)
		}
	}
}

// checkLeafref enforces rule 6: a leafref must resolve within the
// complete view. Only plain, predicate-free absolute paths are resolved
// here; anything richer needs the XPath evaluator.
func (v *validation) checkLeafref(e *tree.Element, parentPath string) {
	sn := e.SchemaLink
	if sn.Kind() != schema.KindLeaf && sn.Kind() != schema.KindLeafList {
		return
	}
	t := sn.Type()
	if t == nil {
		return
	}
	lrefPath, ok := t.Leafref()
	if !ok {
		return
	}
	if node, resolvable := v.model.FindNode(splitAbsolute(lrefPath)); resolvable && node != nil {
		// Schema target exists; instance-level resolution is a join the
		// XPath evaluator performs -- nothing further to check here
		// without it.
		return
	}
	merr := mgmterror.New(mgmterror.TypeApplication, mgmterror.TagDataMissing,
		fmt.Sprintf("leafref target %q does not resolve", lrefPath))
	merr.Path = parentPath + "/" + e.Name
	v.add(merr)
}

func splitAbsolute(path string) []string {
	var out []string
	cur := ""
	for _, r := range path {
		switch r {
		case '/':
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
		default:
			cur += string(r)
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// checkMustWhen enforces rule 7, when an XPathEvaluator collaborator is
// configured.
func (v *validation) checkMustWhen(e *tree.Element, parentPath string) {
	if v.opts.Evaluator == nil {
		return
	}
	sn := e.SchemaLink
	var combined error
	for _, c := range sn.Musts() {
		ok, err := v.opts.Evaluator.Eval(e, nil, c.XPath)
		if err != nil {
			combined = multierr.Append(combined, err)
			continue
		}
		if !ok {
			appTag := c.ErrorAppTag
			msg := c.ErrorMessage
			if msg == "" {
				msg = "must constraint violated"
			}
			merr := mgmterror.NewMustViolationError(parentPath+"/"+e.Name, appTag, msg)
			v.add(merr)
		}
	}
	for _, c := range sn.Whens() {
		ok, err := v.opts.Evaluator.Eval(e, nil, c.XPath)
		if err != nil {
			combined = multierr.Append(combined, err)
			continue
		}
		if !ok {
			merr := mgmterror.NewMustViolationError(parentPath+"/"+e.Name, "", "when constraint not satisfied")
			v.add(merr)
		}
	}
	if combined != nil {
		merr := mgmterror.NewOperationFailedError(mgmterror.TypeApplication, combined.Error())
		v.add(merr)
	}
}
