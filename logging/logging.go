// Copyright (c) 2019-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package logging wraps a structured *zap.Logger with a three-handle,
// level/type-gated logging convention: each logging Type (commit,
// session, must, nacm) is independently enabled at none/error/debug,
// so operators can turn up one subsystem's verbosity without turning
// up everything.
package logging

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Level is how verbose one Type's logging is, ordered least to most
// verbose so callers can compare numerically.
type Level int

const (
	LevelNone Level = iota
	LevelError
	LevelDebug
)

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "error":
		return LevelError, nil
	case "none":
		return LevelNone, nil
	}
	return LevelNone, fmt.Errorf("logging: level %q not recognized, use <none|error|debug>", s)
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelError:
		return "error"
	default:
		return "none"
	}
}

// Type is the logging subsystem being configured -- commit, must-
// evaluation, session, and so on -- so operators can turn up commit
// logging without turning up everything.
type Type int

const (
	TypeCommit Type = iota
	TypeSession
	TypeMust
	TypeNACM
	typeLast
)

func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "commit":
		return TypeCommit, nil
	case "session":
		return TypeSession, nil
	case "must":
		return TypeMust, nil
	case "nacm":
		return TypeNACM, nil
	}
	return 0, fmt.Errorf("logging: type %q not recognized", s)
}

// Logging holds one *zap.Logger plus a per-Type verbosity table, so
// call sites can cheaply ask "is debug enabled for commit" before
// building an expensive log line.
type Logging struct {
	base *zap.Logger

	mu     sync.RWMutex
	levels [typeLast]Level
}

// New wraps base, defaulting every Type to LevelError so commit-level
// logs are always on.
func New(base *zap.Logger) *Logging {
	l := &Logging{base: base}
	for t := range l.levels {
		l.levels[t] = LevelError
	}
	return l
}

// SetLevel configures t's verbosity.
func (l *Logging) SetLevel(t Type, lvl Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.levels[t] = lvl
}

// Enabled reports whether t is configured at least as verbose as lvl.
func (l *Logging) Enabled(t Type, lvl Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.levels[t] >= lvl
}

// Debug, Error and Warn log at their level straight through the one
// *zap.Logger, instead of three independent syslog handles; they do not
// consult the per-Type level table (DebugIf does).
func (l *Logging) Debug(msg string, fields ...zap.Field) { l.base.Debug(msg, fields...) }
func (l *Logging) Error(msg string, fields ...zap.Field) { l.base.Error(msg, fields...) }
func (l *Logging) Warn(msg string, fields ...zap.Field)  { l.base.Warn(msg, fields...) }

// Sugared exposes a SugaredLogger for Printf-style call sites, used for
// timing and hook-output logging.
func (l *Logging) Sugared() *zap.SugaredLogger { return l.base.Sugar() }

// DebugIf logs msg at debug only when t is enabled at lvl or above.
func (l *Logging) DebugIf(t Type, lvl Level, msg string, fields ...zap.Field) {
	if l.Enabled(t, lvl) {
		l.base.Debug(msg, fields...)
	}
}
