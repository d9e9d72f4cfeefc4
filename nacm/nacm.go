// Copyright (c) 2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package nacm implements the NETCONF Access Control Model authorizer
// (RFC 8341): group membership, ordered rule-list evaluation, and the
// read/write/exec default actions, against data nodes and RPCs alike.
package nacm

import (
	"sync"
	"sync/atomic"

	"github.com/yangconf/confd/mgmterror"
)

// Action is a rule's permit/deny verdict.
type Action int

const (
	ActionDeny Action = iota
	ActionPermit
)

// Op is the bitmask of access operations NACM names.
type Op int

const (
	OpCreate Op = 1 << iota
	OpRead
	OpUpdate
	OpDelete
	OpExec
)

// Rule is one access-control rule within a rule-list.
type Rule struct {
	Name       string
	ModuleName string // "*" matches any module
	RPCName    string // empty means "not an RPC rule"
	Path       string // empty means "not a data-node rule"
	Access     Op
	Action     Action
}

func (r *Rule) matchesModule(module string) bool {
	return r.ModuleName == "" || r.ModuleName == "*" || r.ModuleName == module
}

func (r *Rule) matchesTarget(rpcName, path string) bool {
	if r.RPCName != "" {
		return r.RPCName == "*" || r.RPCName == rpcName
	}
	if r.Path != "" {
		return r.Path == path
	}
	// A rule naming neither applies to any target within its module.
	return true
}

// RuleList is one group-scoped list of rules, evaluated in order.
type RuleList struct {
	Name   string
	Groups []string // "*" matches every authenticated user
	Rules  []Rule
}

func (rl *RuleList) appliesToGroups(userGroups []string) bool {
	for _, g := range rl.Groups {
		if g == "*" {
			return true
		}
		for _, ug := range userGroups {
			if g == ug {
				return true
			}
		}
	}
	return false
}

// Ruleset is the complete, immutable NACM configuration at one point in
// time. Authorizer swaps in a new *Ruleset atomically on reload; callers
// never observe a half-updated ruleset.
type Ruleset struct {
	Enabled      bool
	Groups       map[string][]string // group name -> member users
	RuleLists    []RuleList
	ReadDefault  Action
	WriteDefault Action
	ExecDefault  Action
}

// DefaultRuleset denies nothing -- NACM disabled -- so Authorize's
// first step ("if NACM disabled, permit") short-circuits immediately.
func DefaultRuleset() *Ruleset {
	return &Ruleset{Enabled: false}
}

// groupsForUser computes the user's group membership: the set of
// configured groups whose member list contains user (step 2).
func (rs *Ruleset) groupsForUser(user string) []string {
	var out []string
	for name, members := range rs.Groups {
		for _, m := range members {
			if m == user {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

// Request is one authorization request.
type Request struct {
	User       string
	Op         Op
	RPCName    string // set for RPC authorization
	ModuleName string
	Path       string // set for data-node authorization
}

// Authorizer evaluates Requests against a hot-swappable Ruleset.
type Authorizer struct {
	current atomic.Pointer[Ruleset]
	mu      sync.Mutex // serializes reloads; reads are lock-free
}

// NewAuthorizer constructs an Authorizer with an initial ruleset (use
// DefaultRuleset() for "NACM off").
func NewAuthorizer(initial *Ruleset) *Authorizer {
	a := &Authorizer{}
	a.current.Store(initial)
	return a
}

// Reload atomically installs rs as the active ruleset.
func (a *Authorizer) Reload(rs *Ruleset) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current.Store(rs)
}

// Ruleset returns the currently active ruleset.
func (a *Authorizer) Ruleset() *Ruleset {
	return a.current.Load()
}

// Authorize runs the five-step NACM algorithm: disabled check, group
// membership, ordered rule-list scan, default-action fallback, and
// access-denied emission.
func (a *Authorizer) Authorize(req Request) *mgmterror.MgmtError {
	rs := a.current.Load()

	// 1. NACM disabled -> permit.
	if !rs.Enabled {
		return nil
	}

	// 2. Compute group membership.
	groups := rs.groupsForUser(req.User)

	// 3. Scan matching rule-lists, in order.
	for _, rl := range rs.RuleLists {
		if !rl.appliesToGroups(groups) {
			continue
		}
		for _, rule := range rl.Rules {
			if rule.Access&req.Op == 0 {
				continue
			}
			if !rule.matchesModule(req.ModuleName) {
				continue
			}
			if !rule.matchesTarget(req.RPCName, req.Path) {
				continue
			}
			if rule.Action == ActionPermit {
				return nil
			}
			return a.denyError(req, "access denied")
		}
	}

	// 4. No rule matched: apply the default.
	def := a.defaultFor(rs, req.Op)
	if def == ActionPermit {
		return nil
	}

	// 5. access-denied, with the applicable severity/type.
	return a.denyError(req, "default deny")
}

func (a *Authorizer) defaultFor(rs *Ruleset, op Op) Action {
	switch {
	case op == OpExec:
		return rs.ExecDefault
	case op == OpRead:
		return rs.ReadDefault
	default:
		return rs.WriteDefault
	}
}

func (a *Authorizer) denyError(req Request, message string) *mgmterror.MgmtError {
	typ := mgmterror.TypeApplication
	if req.RPCName != "" {
		typ = mgmterror.TypeProtocol
	}
	err := mgmterror.NewAccessDeniedError(typ, message)
	if req.Path != "" {
		err.Path = req.Path
	}
	return err
}
