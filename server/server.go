// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"io"
	"net"

	"github.com/yangconf/confd/commit"
	"github.com/yangconf/confd/confirm"
	"github.com/yangconf/confd/datastore"
	"github.com/yangconf/confd/logging"
	"github.com/yangconf/confd/nacm"
	"github.com/yangconf/confd/schema"
	"go.uber.org/zap"
)

// Server ties the Datastore Facade, Commit Engine, NACM Authorizer,
// Session Manager and Dispatcher together behind one accept loop.
type Server struct {
	Listener   net.Listener
	Sessions   *SessionManager
	Facade     *datastore.Facade
	Engine     *commit.Engine
	Authorizer *nacm.Authorizer
	Confirm    *confirm.Machine
	Dispatcher *Dispatcher
	Log        *logging.Logging

	model schema.ModelSet
}

// Config bundles the pieces NewServer wires together.
type Config struct {
	Listener   net.Listener
	Facade     *datastore.Facade
	Engine     *commit.Engine
	Authorizer *nacm.Authorizer
	Confirm    *confirm.Machine
	Model      schema.ModelSet
	RateLimit  RateLimit
	Log        *logging.Logging
}

func NewServer(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = logging.New(zap.NewNop())
	}
	sessions := NewSessionManager()
	return &Server{
		Listener:   cfg.Listener,
		Sessions:   sessions,
		Facade:     cfg.Facade,
		Engine:     cfg.Engine,
		Authorizer: cfg.Authorizer,
		Confirm:    cfg.Confirm,
		Dispatcher: NewDispatcher(sessions, cfg.Facade, cfg.Engine, cfg.Authorizer, cfg.Confirm, cfg.RateLimit),
		Log:        log,
		model:      cfg.Model,
	}
}

// Serve accepts connections until the listener is closed, handing each
// one to handleConn in its own goroutine -- the transport-acceptance
// loop is intentionally thin: framing and the on-wire NETCONF encoding
// are left to the caller, which supplies handshake to authenticate the
// connection. handleConn runs the handshake and registers a READY
// Session for the connection; it does not read RPCs from the connection
// or pass them to the Dispatcher.
func (s *Server) Serve(handshake func(conn io.ReadWriteCloser) (username string, groups []string, err error)) error {
	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn, handshake)
	}
}

func (s *Server) handleConn(conn net.Conn, handshake func(io.ReadWriteCloser) (string, []string, error)) {
	username, groups, err := handshake(conn)
	if err != nil {
		s.Log.Warn("session handshake failed", zap.Error(err))
		conn.Close()
		return
	}
	sess := s.Sessions.Create(username, groups, conn)
	sess.transition(StateReady)
	s.Log.Debug("session established", zap.Int32("session-id", sess.ID), zap.String("user", username))
}

// KillSession delegates to Dispatcher.KillSession; the kill-session and
// close-session RPC handlers call Dispatcher.KillSession directly.
func (s *Server) KillSession(target int32) {
	s.Dispatcher.KillSession(target)
}
