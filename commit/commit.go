// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package commit runs the nine-step commit sequence over a
// datastore.Facade: snapshot, validate, diff, pre-commit, commit,
// promote, commit-done, notify, hand-off to the confirmed-commit state
// machine. One Engine serializes commits through a single run loop,
// refusing an overlapping commit rather than queuing it silently.
package commit

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yangconf/confd/datastore"
	"github.com/yangconf/confd/mgmterror"
	"github.com/yangconf/confd/schema"
	"github.com/yangconf/confd/tree"
	"github.com/yangconf/confd/validator"
)

// Status is a Commit outcome.
type Status int

const (
	StatusOK Status = iota
	StatusInvalid
	StatusErr
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalid:
		return "INVALID"
	case StatusErr:
		return "ERR"
	}
	return "UNKNOWN"
}

// DiffOp describes one changed path between running and candidate.
type DiffOp struct {
	Path   string
	Before *tree.Element
	After  *tree.Element
}

// ChangeNotification is published on Engine's event stream after every
// successful commit.
type ChangeNotification struct {
	Datastore string
	Diff      []DiffOp
	At        time.Time
}

// Plugin is a registered commit callback. Implementations that don't
// care about a given phase embed NopPlugin.
type Plugin interface {
	Name() string
	PreCommit(diff []DiffOp) error
	Commit(diff []DiffOp) error
	CommitDone(diff []DiffOp)
	Abort(diff []DiffOp)
}

// NopPlugin is embeddable by plugins that only implement a subset of
// the Plugin interface.
type NopPlugin struct{}

func (NopPlugin) PreCommit([]DiffOp) error { return nil }
func (NopPlugin) Commit([]DiffOp) error    { return nil }
func (NopPlugin) CommitDone([]DiffOp)      {}
func (NopPlugin) Abort([]DiffOp)           {}

// Result is the outcome of one Commit call.
type Result struct {
	Status Status
	Errors []*mgmterror.MgmtError
	Diff   []DiffOp

	// Rollback is the snapshot of running taken immediately before this
	// commit was applied -- the state a confirmed commit's automatic
	// rollback must restore, not the just-committed state. Populated
	// only on StatusOK.
	Rollback *tree.Element
}

var (
	commitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commit_total",
		Help: "Total commits processed, by result.",
	}, []string{"result"})
	commitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "commit_duration_seconds",
		Help:    "Commit transition latency.",
		Buckets: prometheus.DefBuckets,
	})
)

// RegisterMetrics adds the engine's prometheus collectors to reg; callers
// own the registry the way cmd/confd wires it into an HTTP exporter.
func RegisterMetrics(reg prometheus.Registerer) error {
	if err := reg.Register(commitTotal); err != nil {
		return err
	}
	return reg.Register(commitDuration)
}

// Engine runs commits against one running datastore, serializing
// overlapping attempts through a single select loop: a commit already
// in flight causes the next one to fail fast with resource-denied
// instead of queuing.
type Engine struct {
	facade  *datastore.Facade
	model   schema.ModelSet
	running string

	plugins []Plugin
	events  chan ChangeNotification

	reqch     chan commitReq
	hadCommit bool
}

type commitReq struct {
	candidate string
	resp      chan *Result
}

// NewEngine constructs an Engine. events is buffered per eventBuf so a
// slow consumer never blocks a commit; a full buffer drops the new
// notification rather than stalling the dispatcher.
const eventBuf = 64

func NewEngine(facade *datastore.Facade, model schema.ModelSet, runningName string) *Engine {
	e := &Engine{
		facade:  facade,
		model:   model,
		running: runningName,
		events:  make(chan ChangeNotification, eventBuf),
		reqch:   make(chan commitReq),
	}
	go e.run()
	return e
}

// Validate runs the same validation step Commit does, against
// candidateName, without promoting it -- the standalone <validate> RPC.
func (e *Engine) Validate(candidateName string) []*mgmterror.MgmtError {
	candidate, res := e.facade.Get(candidateName, nil, datastore.ContentConfig, 0)
	if res != datastore.OK {
		return []*mgmterror.MgmtError{
			mgmterror.NewOperationFailedError(mgmterror.TypeApplication, "datastore operation failed"),
		}
	}
	return validator.Validate(candidate, e.model, validator.Options{})
}

// Register appends p to the plugin list, in invocation order.
func (e *Engine) Register(p Plugin) {
	e.plugins = append(e.plugins, p)
}

// Events exposes the change-notification stream for server to consume.
func (e *Engine) Events() <-chan ChangeNotification {
	return e.events
}

func (e *Engine) run() {
	var inCommit bool
	donech := make(chan struct{})
	for {
		select {
		case req := <-e.reqch:
			if inCommit {
				err := mgmterror.NewResourceDeniedError(mgmterror.TypeProtocol, "Commit already in progress")
				req.resp <- &Result{Status: StatusErr, Errors: []*mgmterror.MgmtError{err}}
				continue
			}
			inCommit = true
			go func(r commitReq) {
				res := e.doCommit(r.candidate)
				donech <- struct{}{}
				r.resp <- res
			}(req)
		case <-donech:
			inCommit = false
		}
	}
}

// Commit runs the nine-step sequence against candidateName, promoting it
// into the running datastore on success.
func (e *Engine) Commit(candidateName string) *Result {
	respch := make(chan *Result)
	e.reqch <- commitReq{candidate: candidateName, resp: respch}
	return <-respch
}

func (e *Engine) doCommit(candidateName string) *Result {
	start := time.Now()
	result := e.commitLocked(candidateName)
	commitDuration.Observe(time.Since(start).Seconds())
	commitTotal.WithLabelValues(result.Status.String()).Inc()
	return result
}

func (e *Engine) commitLocked(candidateName string) *Result {
	// 1. Snapshot current running -> rollback image.
	rollback, res := e.facade.Get(e.running, nil, datastore.ContentConfig, 0)
	if res != datastore.OK {
		return fatal(fmt.Errorf("commit: reading running: status %v", res))
	}

	candidate, res := e.facade.Get(candidateName, nil, datastore.ContentConfig, 0)
	if res != datastore.OK {
		return fatal(fmt.Errorf("commit: reading %s: status %v", candidateName, res))
	}

	// 2. Validate candidate against schema.
	verrs := validator.Validate(candidate, e.model, validator.Options{})
	if len(verrs) > 0 {
		return &Result{Status: StatusInvalid, Errors: verrs}
	}

	// 3. Compute diff(running, candidate).
	d := diffTrees("", rollback, candidate)

	// 4. pre-commit callbacks; any non-ok -> abort (nothing to roll back
	// yet, since no commit callback has run).
	for _, p := range e.plugins {
		if err := p.PreCommit(d); err != nil {
			return abortResult(err, nil)
		}
	}

	// 5. commit callbacks, in order; track which succeeded for rollback.
	var applied []Plugin
	for _, p := range e.plugins {
		if err := p.Commit(d); err != nil {
			return e.abort(err, applied, rollback, d)
		}
		applied = append(applied, p)
	}

	// 6. Promote candidate: swap running <- candidate, reset candidate <- running.
	if res := e.facade.Copy(candidateName, e.running); res != datastore.OK {
		return e.abort(fmt.Errorf("commit: promoting candidate: status %v", res), applied, rollback, d)
	}
	if res := e.facade.Copy(e.running, candidateName); res != datastore.OK {
		return e.abort(fmt.Errorf("commit: resetting candidate: status %v", res), applied, rollback, d)
	}
	e.hadCommit = true

	// 7. commit-done callbacks, best-effort.
	for _, p := range e.plugins {
		p.CommitDone(d)
	}

	// 8. Publish change notification.
	select {
	case e.events <- ChangeNotification{Datastore: e.running, Diff: d, At: time.Now()}:
	default:
		// Buffer full: drop rather than block the commit path.
	}

	return &Result{Status: StatusOK, Diff: d, Rollback: rollback}
}

// abort invokes Abort on every plugin whose Commit returned ok, in
// reverse order, restores running from rollback, and wraps cause as the
// Result's error.
func (e *Engine) abort(cause error, applied []Plugin, rollback *tree.Element, d []DiffOp) *Result {
	for i := len(applied) - 1; i >= 0; i-- {
		applied[i].Abort(d)
	}
	e.facade.Put(e.running, rollbackWrapper(rollback), datastore.OpReplace)
	return abortResult(cause, d)
}

func abortResult(cause error, d []DiffOp) *Result {
	var merr *mgmterror.MgmtError
	if me, ok := cause.(*mgmterror.MgmtError); ok {
		merr = me
	} else {
		merr = mgmterror.NewOperationFailedError(mgmterror.TypeApplication, cause.Error())
	}
	return &Result{Status: StatusErr, Errors: []*mgmterror.MgmtError{merr}, Diff: d}
}

func fatal(err error) *Result {
	return abortResult(err, nil)
}

// rollbackWrapper wraps an already-rendered top-level tree (as returned
// by Facade.Get) back into the synthetic-root shape Put expects.
func rollbackWrapper(t *tree.Element) *tree.Element {
	root := tree.New("", "")
	root.Children = t.Children
	return root
}

// diffTrees walks before/after in lock-step by child name, emitting one
// DiffOp per top-level path that differs -- a breadth-first, single-level
// diff sufficient for plugin notification; deeper inspection is a plugin's
// own responsibility via the Before/After subtrees it receives.
func diffTrees(prefix string, before, after *tree.Element) []DiffOp {
	var out []DiffOp
	seen := make(map[string]bool)
	for _, b := range before.Children {
		seen[b.Name] = true
		a := after.Child(b.Name)
		if !sameElement(b, a) {
			out = append(out, DiffOp{Path: prefix + "/" + b.Name, Before: b, After: a})
		}
	}
	for _, a := range after.Children {
		if seen[a.Name] {
			continue
		}
		out = append(out, DiffOp{Path: prefix + "/" + a.Name, Before: nil, After: a})
	}
	return out
}

func sameElement(a, b *tree.Element) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Body != b.Body || len(a.Children) != len(b.Children) {
		return false
	}
	for _, ca := range a.Children {
		cb := b.Child(ca.Name)
		if !sameElement(ca, cb) {
			return false
		}
	}
	return true
}
