// Copyright (c) 2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package sshtransport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNetconfSubsystemAcceptsOnlyNetconf(t *testing.T) {
	assert.True(t, isNetconfSubsystem("subsystem", payload("netconf")))
	assert.False(t, isNetconfSubsystem("subsystem", payload("sftp")))
	assert.False(t, isNetconfSubsystem("exec", payload("netconf")))
	assert.False(t, isNetconfSubsystem("subsystem", []byte{0, 0}))
}

// payload encodes an SSH "subsystem" request's string payload: a uint32
// length prefix followed by the subsystem name, per RFC 4254 §6.5.
func payload(name string) []byte {
	b := make([]byte, 4+len(name))
	n := uint32(len(name))
	b[0] = byte(n >> 24)
	b[1] = byte(n >> 16)
	b[2] = byte(n >> 8)
	b[3] = byte(n)
	copy(b[4:], name)
	return b
}
