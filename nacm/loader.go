// Copyright (c) 2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package nacm

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/yangconf/confd/tree"
)

// --- wire format -----------------------------------------------------------
//
// Both the XML and YAML external-file encodings decode into the same
// wireRuleset shape before being compiled into a Ruleset; this mirrors
// clixon's NACM backend plugin accepting either encoding for the same
// external-rules file (original_source supplement, see DESIGN.md).

type wireRule struct {
	Name       string `xml:"name" yaml:"name"`
	ModuleName string `xml:"module-name" yaml:"module-name"`
	RPCName    string `xml:"rpc-name" yaml:"rpc-name"`
	Path       string `xml:"path" yaml:"path"`
	Access     string `xml:"access-operations" yaml:"access-operations"`
	Action     string `xml:"action" yaml:"action"`
}

type wireRuleList struct {
	Name   string     `xml:"name" yaml:"name"`
	Groups []string   `xml:"group" yaml:"groups"`
	Rules  []wireRule `xml:"rule" yaml:"rules"`
}

type wireRuleset struct {
	XMLName      xml.Name                `xml:"nacm"`
	Enabled      bool                    `xml:"enable-nacm" yaml:"enable-nacm"`
	ReadDefault  string                  `xml:"read-default" yaml:"read-default"`
	WriteDefault string                  `xml:"write-default" yaml:"write-default"`
	ExecDefault  string                  `xml:"exec-default" yaml:"exec-default"`
	Groups       map[string][]string     `xml:"-" yaml:"groups"`
	GroupList    []wireGroup             `xml:"groups>group" yaml:"-"`
	RuleLists    []wireRuleList          `xml:"rule-list" yaml:"rule-list"`
}

type wireGroup struct {
	Name       string   `xml:"name"`
	UserNames  []string `xml:"user-name"`
}

func compile(w *wireRuleset) *Ruleset {
	rs := &Ruleset{
		Enabled:      w.Enabled,
		Groups:       make(map[string][]string),
		ReadDefault:  parseAction(w.ReadDefault, ActionPermit),
		WriteDefault: parseAction(w.WriteDefault, ActionDeny),
		ExecDefault:  parseAction(w.ExecDefault, ActionPermit),
	}
	for _, g := range w.GroupList {
		rs.Groups[g.Name] = g.UserNames
	}
	for k, v := range w.Groups {
		rs.Groups[k] = v
	}
	for _, wrl := range w.RuleLists {
		rl := RuleList{Name: wrl.Name, Groups: wrl.Groups}
		for _, wr := range wrl.Rules {
			rl.Rules = append(rl.Rules, Rule{
				Name:       wr.Name,
				ModuleName: wr.ModuleName,
				RPCName:    wr.RPCName,
				Path:       wr.Path,
				Access:     parseAccess(wr.Access),
				Action:     parseAction(wr.Action, ActionDeny),
			})
		}
		rs.RuleLists = append(rs.RuleLists, rl)
	}
	return rs
}

func parseAction(s string, fallback Action) Action {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "permit":
		return ActionPermit
	case "deny":
		return ActionDeny
	default:
		return fallback
	}
}

func parseAccess(s string) Op {
	var op Op
	for _, part := range strings.Split(s, " ") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "create":
			op |= OpCreate
		case "read":
			op |= OpRead
		case "update":
			op |= OpUpdate
		case "delete":
			op |= OpDelete
		case "exec":
			op |= OpExec
		case "*", "all":
			op |= OpCreate | OpRead | OpUpdate | OpDelete | OpExec
		}
	}
	return op
}

// LoadExternalFile parses path (XML by default, YAML when the
// extension is .yaml/.yml) into a Ruleset -- the "external" load mode,
// as opposed to compiling the ruleset from the running datastore.
func LoadExternalFile(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nacm: reading %s: %w", path, err)
	}
	var w wireRuleset
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("nacm: parsing %s: %w", path, err)
		}
	default:
		if err := xml.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("nacm: parsing %s: %w", path, err)
		}
	}
	return compile(&w), nil
}

// WatchExternalFile installs an fsnotify watch on path and reloads a
// into the Authorizer whenever the file changes -- an operator editing
// an external NACM file expects it to take effect without a backend
// restart (the internal-datastore mode gets this for free via the
// commit engine's own change notifications). The returned stop func
// tears down the watch; onError (if non-nil) receives reload failures
// so the caller can log them without crashing the watch loop.
func WatchExternalFile(a *Authorizer, path string, onError func(error)) (stop func() error, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("nacm: creating watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("nacm: watching %s: %w", dir, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				rs, err := LoadExternalFile(path)
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				a.Reload(rs)
			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(werr)
				}
			case <-done:
				return
			}
		}
	}()

	return func() error {
		close(done)
		return w.Close()
	}, nil
}

// LoadInternal compiles a Ruleset from the in-memory NACM subtree of
// the running datastore ("internal" mode) -- root is the </nacm>
// container element as returned by the datastore facade.
func LoadInternal(root *tree.Element) *Ruleset {
	w := &wireRuleset{}
	if root == nil {
		return compile(w)
	}
	if enabled := root.Child("enable-nacm"); enabled != nil {
		w.Enabled = enabled.Body == "true" || enabled.Body == "1"
	}
	if rd := root.Child("read-default"); rd != nil {
		w.ReadDefault = rd.Body
	}
	if wd := root.Child("write-default"); wd != nil {
		w.WriteDefault = wd.Body
	}
	if ed := root.Child("exec-default"); ed != nil {
		w.ExecDefault = ed.Body
	}
	if groups := root.Child("groups"); groups != nil {
		for _, g := range groups.ChildrenNamed("group") {
			name := g.Child("name")
			if name == nil {
				continue
			}
			var users []string
			for _, u := range g.ChildrenNamed("user-name") {
				users = append(users, u.Body)
			}
			w.GroupList = append(w.GroupList, wireGroup{Name: name.Body, UserNames: users})
		}
	}
	for _, rl := range root.ChildrenNamed("rule-list") {
		name := rl.Child("name")
		wrl := wireRuleList{}
		if name != nil {
			wrl.Name = name.Body
		}
		for _, g := range rl.ChildrenNamed("group") {
			wrl.Groups = append(wrl.Groups, g.Body)
		}
		for _, r := range rl.ChildrenNamed("rule") {
			wr := wireRule{}
			if n := r.Child("name"); n != nil {
				wr.Name = n.Body
			}
			if m := r.Child("module-name"); m != nil {
				wr.ModuleName = m.Body
			}
			if rpc := r.Child("rpc-name"); rpc != nil {
				wr.RPCName = rpc.Body
			}
			if p := r.Child("path"); p != nil {
				wr.Path = p.Body
			}
			if acc := r.Child("access-operations"); acc != nil {
				wr.Access = acc.Body
			}
			if act := r.Child("action"); act != nil {
				wr.Action = act.Body
			}
			wrl.Rules = append(wrl.Rules, wr)
		}
		w.RuleLists = append(w.RuleLists, wrl)
	}
	return compile(w)
}
