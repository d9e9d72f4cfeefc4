// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/yangconf/confd/commit"
	"github.com/yangconf/confd/confirm"
	"github.com/yangconf/confd/datastore"
	"github.com/yangconf/confd/mgmterror"
	"github.com/yangconf/confd/nacm"
	"github.com/yangconf/confd/tree"
)

// Handler processes one RPC body and produces a result tree; errors are
// reported through the returned error instead. The Dispatcher answers a
// successful RPC with <ok/> and does not embed that tree in the reply.
type Handler func(ctx context.Context, sess *Session, input *tree.Element) (*tree.Element, error)

// Request is one RPC submitted to the Dispatcher's serializing queue.
type Request struct {
	Session *Session
	RPCName string
	Input   *tree.Element
	resp    chan *mgmterror.RpcReply
}

// Dispatcher is the single cooperative executor: every RPC, from every
// session, is serialized through one request channel in arrival order,
// the single point of mutation for all shared state the handlers touch.
type Dispatcher struct {
	sessions *SessionManager
	facade   *datastore.Facade
	engine   *commit.Engine
	authz    *nacm.Authorizer
	confirm  *confirm.Machine

	handlers  map[string]Handler
	limiters  map[int32]*rate.Limiter
	rateRPS   rate.Limit
	rateBurst int

	reqch chan *Request
}

// RateLimit configures the per-session limiter applied to inbound RPCs;
// zero disables limiting.
type RateLimit struct {
	RPS   float64
	Burst int
}

func NewDispatcher(sessions *SessionManager, facade *datastore.Facade, engine *commit.Engine, authz *nacm.Authorizer, cm *confirm.Machine, limit RateLimit) *Dispatcher {
	d := &Dispatcher{
		sessions:  sessions,
		facade:    facade,
		engine:    engine,
		authz:     authz,
		confirm:   cm,
		handlers:  make(map[string]Handler),
		limiters:  make(map[int32]*rate.Limiter),
		rateRPS:   rate.Limit(limit.RPS),
		rateBurst: limit.Burst,
		reqch:     make(chan *Request),
	}
	registerDefaultHandlers(d)
	go d.loop()
	return d
}

// Register installs a handler for an exact RPC name; unknown names at
// dispatch time produce operation-not-supported.
func (d *Dispatcher) Register(name string, h Handler) {
	d.handlers[name] = h
}

func (d *Dispatcher) loop() {
	for req := range d.reqch {
		d.serve(req)
	}
}

// serve runs one RPC to completion before the loop accepts the next --
// this single-goroutine loop is what serializes every cross-session RPC
// into one request channel.
func (d *Dispatcher) serve(req *Request) {
	reply := d.dispatch(req)
	req.resp <- reply
}

func (d *Dispatcher) dispatch(req *Request) *mgmterror.RpcReply {
	if err := req.Session.transition(StateProcessing); err != nil {
		return mgmterror.NewErrorReply(err.(*mgmterror.MgmtError))
	}
	defer req.Session.transition(StateReady)

	handler, ok := d.handlers[req.RPCName]
	if !ok {
		err := mgmterror.NewOperationNotSupportedError(mgmterror.TypeProtocol,
			fmt.Sprintf("unknown RPC %q", req.RPCName))
		return mgmterror.NewErrorReply(err)
	}

	if merr := d.authz.Authorize(nacm.Request{
		User:    req.Session.Username,
		Op:      nacm.OpExec,
		RPCName: req.RPCName,
	}); merr != nil {
		return mgmterror.NewErrorReply(merr)
	}

	out, err := handler(context.Background(), req.Session, req.Input)
	if err != nil {
		if me, ok := err.(*mgmterror.MgmtError); ok {
			return mgmterror.NewErrorReply(me)
		}
		return mgmterror.NewErrorReply(mgmterror.NewOperationFailedError(mgmterror.TypeApplication, err.Error()))
	}
	reply := mgmterror.NewOKReply()
	_ = out // the result tree is not carried in the rpc-reply
	return reply
}

// limiterFor returns (creating if needed) sess's rate limiter.
func (d *Dispatcher) limiterFor(sess *Session) *rate.Limiter {
	if l, ok := d.limiters[sess.ID]; ok {
		return l
	}
	l := rate.NewLimiter(d.rateRPS, d.rateBurst)
	d.limiters[sess.ID] = l
	return l
}

// Dispatch submits req to the single serializing executor and blocks
// for its reply. A session that has exceeded its rate limit is refused
// with resource-denied instead of being queued.
func (d *Dispatcher) Dispatch(sess *Session, rpcName string, input *tree.Element) *mgmterror.RpcReply {
	if d.rateRPS > 0 {
		if !d.limiterFor(sess).Allow() {
			err := mgmterror.NewResourceDeniedError(mgmterror.TypeProtocol,
				"RPC rate limit exceeded for this session")
			return mgmterror.NewErrorReply(err)
		}
	}

	req := &Request{Session: sess, RPCName: rpcName, Input: input, resp: make(chan *mgmterror.RpcReply, 1)}
	d.reqch <- req
	return <-req.resp
}

// Lock grants name's datastore lock to sess, or lock-denied if another
// session holds it -- lock/unlock enforce at-most-one holder per
// datastore.
func (d *Dispatcher) Lock(sess *Session, datastoreName string) *mgmterror.MgmtError {
	holder, res := d.facade.Lock(datastoreName, sess.ID)
	if res == datastore.Conflict {
		return mgmterror.NewLockDeniedError(holder)
	}
	return nil
}

// Unlock releases name's lock if sess holds it.
func (d *Dispatcher) Unlock(sess *Session, datastoreName string) *mgmterror.MgmtError {
	res := d.facade.Unlock(datastoreName, sess.ID)
	switch res {
	case datastore.OK:
		return nil
	case datastore.Conflict:
		holder, _ := d.facade.LockHolder(datastoreName)
		return mgmterror.NewLockDeniedError(holder)
	default:
		return mgmterror.NewOperationFailedError(mgmterror.TypeProtocol, "no such lock")
	}
}

// KillSession drops target's session, releasing every lock and rate
// limiter entry it held.
func (d *Dispatcher) KillSession(target int32) {
	d.facade.ReleaseSessionLocks(target)
	delete(d.limiters, target)
	if d.confirm != nil {
		d.confirm.Disconnect(target)
	}
	d.sessions.Destroy(target)
}
