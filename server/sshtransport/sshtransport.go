// Copyright (c) 2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package sshtransport adapts golang.org/x/crypto/ssh into the
// io.ReadWriteCloser the server package's Dispatcher reads framed
// NETCONF messages from, speaking the "netconf" SSH subsystem of
// RFC 6242. The framing itself (]]>]]> / chunked) stays the caller's
// concern -- this package only establishes the channel.
package sshtransport

import (
	"fmt"
	"net"

	"golang.org/x/crypto/ssh"
)

// Listener accepts NETCONF-over-SSH connections, handing each
// established "netconf" subsystem channel to the caller as a plain
// io.ReadWriteCloser.
type Listener struct {
	net.Listener
	config *ssh.ServerConfig
}

// NewListener wraps inner, authenticating incoming connections with
// config (password/public-key callbacks are the caller's concern --
// this package only establishes the transport and subsystem channel).
func NewListener(inner net.Listener, config *ssh.ServerConfig) *Listener {
	return &Listener{Listener: inner, config: config}
}

// Accept blocks until a peer completes the SSH handshake and opens the
// "netconf" subsystem, returning that channel as an io.ReadWriteCloser.
// Non-netconf channel requests are rejected.
func (l *Listener) Accept() (ssh.Channel, string, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, "", err
	}

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, l.config)
	if err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("sshtransport: handshake: %w", err)
	}
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			return nil, "", fmt.Errorf("sshtransport: accepting channel: %w", err)
		}
		for req := range requests {
			ok := isNetconfSubsystem(req.Type, req.Payload)
			if req.WantReply {
				req.Reply(ok, nil)
			}
			if ok {
				go serveSubsystemRequests(requests, ch)
				return ch, sshConn.User(), nil
			}
		}
		ch.Close()
		return nil, "", fmt.Errorf("sshtransport: channel closed before the netconf subsystem was requested")
	}
	return nil, "", fmt.Errorf("sshtransport: connection closed before a session channel was opened")
}

// serveSubsystemRequests answers the "subsystem" request for "netconf"
// (RFC 6242 §3) and discards everything else.
func serveSubsystemRequests(reqs <-chan *ssh.Request, ch ssh.Channel) {
	for req := range reqs {
		ok := isNetconfSubsystem(req.Type, req.Payload)
		if req.WantReply {
			req.Reply(ok, nil)
		}
	}
}

// isNetconfSubsystem reports whether an SSH "subsystem" request (RFC
// 4254 §6.5: a uint32 length prefix followed by the subsystem name) is
// asking for "netconf".
func isNetconfSubsystem(reqType string, payload []byte) bool {
	if reqType != "subsystem" || len(payload) < 4 {
		return false
	}
	n := int(payload[0])<<24 | int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
	if len(payload) < 4+n {
		return false
	}
	return string(payload[4:4+n]) == "netconf"
}
