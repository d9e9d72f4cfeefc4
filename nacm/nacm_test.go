// Copyright (c) 2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package nacm

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizeDisabledPermitsEverything(t *testing.T) {
	a := NewAuthorizer(DefaultRuleset())
	err := a.Authorize(Request{User: "alice", Op: OpDelete, Path: "/system"})
	assert.Nil(t, err)
}

func TestAuthorizeDefaultDeny(t *testing.T) {
	rs := &Ruleset{
		Enabled:      true,
		WriteDefault: ActionDeny,
		ReadDefault:  ActionPermit,
	}
	a := NewAuthorizer(rs)
	err := a.Authorize(Request{User: "bob", Op: OpUpdate, Path: "/interfaces"})
	require.NotNil(t, err)
	assert.Equal(t, "access-denied", err.Tag)
}

func TestAuthorizeRuleMatchPermitsOverridingDefault(t *testing.T) {
	rs := &Ruleset{
		Enabled: true,
		Groups:  map[string][]string{"admin": {"alice"}},
		RuleLists: []RuleList{
			{
				Name:   "admin-acl",
				Groups: []string{"admin"},
				Rules: []Rule{
					{Name: "allow-all", ModuleName: "*", Access: OpCreate | OpRead | OpUpdate | OpDelete, Action: ActionPermit},
				},
			},
		},
		WriteDefault: ActionDeny,
	}
	a := NewAuthorizer(rs)
	err := a.Authorize(Request{User: "alice", Op: OpUpdate, ModuleName: "ietf-interfaces", Path: "/interfaces"})
	assert.Nil(t, err)
}

func TestAuthorizeRuleMatchDeniesBeforeDefault(t *testing.T) {
	rs := &Ruleset{
		Enabled: true,
		Groups:  map[string][]string{"guest": {"eve"}},
		RuleLists: []RuleList{
			{
				Name:   "deny-secrets",
				Groups: []string{"guest"},
				Rules: []Rule{
					{Name: "deny-secrets", Path: "/secrets", Access: OpRead, Action: ActionDeny},
				},
			},
		},
		ReadDefault: ActionPermit,
	}
	a := NewAuthorizer(rs)
	err := a.Authorize(Request{User: "eve", Op: OpRead, Path: "/secrets"})
	require.NotNil(t, err)
}

func TestAuthorizeRPCUsesProtocolErrorType(t *testing.T) {
	rs := &Ruleset{Enabled: true, ExecDefault: ActionDeny}
	a := NewAuthorizer(rs)
	err := a.Authorize(Request{User: "eve", Op: OpExec, RPCName: "reboot"})
	require.NotNil(t, err)
	assert.Equal(t, "protocol", err.Typ)
}

func TestReloadSwapsRulesetAtomically(t *testing.T) {
	a := NewAuthorizer(DefaultRuleset())
	err := a.Authorize(Request{User: "x", Op: OpRead, Path: "/anything"})
	assert.Nil(t, err)

	a.Reload(&Ruleset{Enabled: true, ReadDefault: ActionDeny})
	err = a.Authorize(Request{User: "x", Op: OpRead, Path: "/anything"})
	assert.NotNil(t, err)
}

func TestLoadExternalFileXML(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/nacm.xml"
	doc := `<nacm>
  <enable-nacm>true</enable-nacm>
  <read-default>permit</read-default>
  <write-default>deny</write-default>
  <groups>
    <group><name>admin</name><user-name>alice</user-name></group>
  </groups>
  <rule-list>
    <name>admin-acl</name>
    <group>admin</group>
    <rule>
      <name>allow-all</name>
      <module-name>*</module-name>
      <access-operations>create read update delete</access-operations>
      <action>permit</action>
    </rule>
  </rule-list>
</nacm>`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	rs, err := LoadExternalFile(path)
	require.NoError(t, err)
	assert.True(t, rs.Enabled)
	assert.Equal(t, ActionDeny, rs.WriteDefault)
	require.Len(t, rs.RuleLists, 1)
	assert.Equal(t, []string{"alice"}, rs.Groups["admin"])
}
