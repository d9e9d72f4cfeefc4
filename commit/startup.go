// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package commit

import (
	"github.com/yangconf/confd/datastore"
	"github.com/yangconf/confd/mgmterror"
	"github.com/yangconf/confd/validator"
)

// StartupMode selects how Startup brings the running datastore up.
type StartupMode int

const (
	StartupInit StartupMode = iota
	StartupNone
	StartupRunning
	StartupStartup
)

// StartupStatus is the outcome of a Startup call.
type StartupStatus int

const (
	StartupOK StartupStatus = iota
	StartupInvalid
	StartupErr
)

func (s StartupStatus) String() string {
	switch s {
	case StartupOK:
		return "OK"
	case StartupInvalid:
		return "INVALID"
	case StartupErr:
		return "ERR"
	}
	return "UNKNOWN"
}

// Startup brings the running datastore to its initial state, per one of
// four variants selected by mode. failsafeName names the failsafe
// datastore to fall back to if the startup datastore is invalid.
func (e *Engine) Startup(mode StartupMode, startupName, failsafeName string) (StartupStatus, []*mgmterror.MgmtError) {
	switch mode {
	case StartupInit:
		if res := e.facade.Delete(e.running); res != datastore.OK && res != datastore.NotFound {
			return StartupErr, parseFailure(res)
		}
		if res := e.facade.Create(e.running); res != datastore.OK {
			return StartupErr, parseFailure(res)
		}
		for _, p := range e.plugins {
			p.CommitDone(nil)
		}
		return StartupOK, nil

	case StartupNone:
		if err := e.facade.Load(e.running); err != nil {
			return StartupErr, []*mgmterror.MgmtError{parseError(err)}
		}
		return StartupOK, nil

	case StartupRunning:
		const tmpName = "tmp-startup"
		if res := e.facade.Copy(e.running, tmpName); res != datastore.OK {
			return StartupErr, parseFailure(res)
		}
		return e.validateAndCommitStartup(tmpName, startupName, failsafeName)

	case StartupStartup:
		if err := e.facade.Load(startupName); err != nil {
			return StartupErr, []*mgmterror.MgmtError{parseError(err)}
		}
		return e.validateAndCommitStartup(startupName, startupName, failsafeName)
	}
	return StartupErr, []*mgmterror.MgmtError{
		mgmterror.NewOperationFailedError(mgmterror.TypeApplication, "unknown startup mode"),
	}
}

// validateAndCommitStartup validates srcName and, if it is well-formed,
// commits it into running. On validation failure it falls back to
// failsafeName: a validation failure degrades the startup status to
// INVALID, any other error to ERR.
func (e *Engine) validateAndCommitStartup(srcName, loggedName, failsafeName string) (StartupStatus, []*mgmterror.MgmtError) {
	candidate, res := e.facade.Get(srcName, nil, datastore.ContentConfig, 0)
	if res != datastore.OK {
		return StartupErr, parseFailure(res)
	}

	verrs := validator.Validate(candidate, e.model, validator.Options{})
	if len(verrs) > 0 {
		if failsafeName != "" {
			if err := e.facade.Load(failsafeName); err == nil {
				e.facade.Copy(failsafeName, e.running)
			}
		}
		return StartupInvalid, verrs
	}

	result := e.commitFromLoaded(srcName)
	if result.Status != StatusOK {
		return StartupErr, result.Errors
	}
	return StartupOK, nil
}

// commitFromLoaded runs the same nine-step sequence as Commit, but
// against an already-loaded (not necessarily "candidate"-named)
// datastore -- used only during startup, before the dispatcher accepts
// sessions, so it bypasses the serializing request channel.
func (e *Engine) commitFromLoaded(name string) *Result {
	return e.commitLocked(name)
}

func parseFailure(res datastore.Result) []*mgmterror.MgmtError {
	return []*mgmterror.MgmtError{
		mgmterror.NewOperationFailedError(mgmterror.TypeApplication, "datastore operation failed"),
	}
}

func parseError(err error) *mgmterror.MgmtError {
	return mgmterror.NewOperationFailedError(mgmterror.TypeApplication, err.Error())
}
