// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package server

import (
	"context"
	"strconv"
	"time"

	"github.com/yangconf/confd/confirm"
	"github.com/yangconf/confd/datastore"
	"github.com/yangconf/confd/mgmterror"
	"github.com/yangconf/confd/tree"
)

// registerDefaultHandlers installs the built-in RPC surface onto d:
// get/get-config, edit-config, copy-config, delete-config, validate,
// discard-changes, commit, confirmed-commit, cancel-commit, lock,
// unlock, close-session, kill-session. These are thin adapters onto
// the datastore.Facade, commit.Engine, nacm.Authorizer and
// confirm.Machine already serialized behind d's single request
// channel -- the handlers themselves need no locking of their own.
func registerDefaultHandlers(d *Dispatcher) {
	d.Register("get-config", d.handleGetConfig)
	d.Register("get", d.handleGet)
	d.Register("edit-config", d.handleEditConfig)
	d.Register("copy-config", d.handleCopyConfig)
	d.Register("delete-config", d.handleDeleteConfig)
	d.Register("validate", d.handleValidate)
	d.Register("discard-changes", d.handleDiscardChanges)
	d.Register("commit", d.handleCommit)
	d.Register("confirmed-commit", d.handleConfirmedCommit)
	d.Register("cancel-commit", d.handleCancelCommit)
	d.Register("lock", d.handleLock)
	d.Register("unlock", d.handleUnlock)
	d.Register("close-session", d.handleCloseSession)
	d.Register("kill-session", d.handleKillSession)
}

func targetDatastore(input *tree.Element) string {
	if input == nil {
		return "candidate"
	}
	if src := input.Child("source"); src != nil && len(src.Children) > 0 {
		return src.Children[0].Name
	}
	if tgt := input.Child("target"); tgt != nil && len(tgt.Children) > 0 {
		return tgt.Children[0].Name
	}
	return "candidate"
}

// namedDatastore reads the first child's element name out of one of
// input's direct children (e.g. <source><running/></source>), falling
// back to def when absent.
func namedDatastore(input *tree.Element, child, def string) string {
	if input == nil {
		return def
	}
	c := input.Child(child)
	if c == nil || len(c.Children) == 0 {
		return def
	}
	return c.Children[0].Name
}

func (d *Dispatcher) handleGetConfig(ctx context.Context, sess *Session, input *tree.Element) (*tree.Element, error) {
	name := targetDatastore(input)
	result, res := d.facade.Get(name, nil, datastore.ContentConfig, -1)
	if res != datastore.OK {
		return nil, mgmterror.NewDataMissingError(name)
	}
	return result, nil
}

func (d *Dispatcher) handleGet(ctx context.Context, sess *Session, input *tree.Element) (*tree.Element, error) {
	result, res := d.facade.Get("running", nil, datastore.ContentAll, -1)
	if res != datastore.OK {
		return nil, mgmterror.NewDataMissingError("running")
	}
	return result, nil
}

func (d *Dispatcher) handleEditConfig(ctx context.Context, sess *Session, input *tree.Element) (*tree.Element, error) {
	name := targetDatastore(input)
	if holder, locked := d.facade.LockHolder(name); locked && holder != sess.ID {
		return nil, mgmterror.NewLockDeniedError(holder)
	}
	if input == nil {
		return nil, mgmterror.NewMissingElementError(mgmterror.TypeApplication, "config")
	}
	config := input.Child("config")
	if config == nil {
		return nil, mgmterror.NewMissingElementError(mgmterror.TypeApplication, "config")
	}
	res, err := d.facade.Put(name, config, datastore.OpMerge)
	if err != nil {
		return nil, mgmterror.NewOperationFailedError(mgmterror.TypeApplication, err.Error())
	}
	if res != datastore.OK {
		return nil, mgmterror.NewOperationFailedError(mgmterror.TypeApplication, "edit-config failed")
	}
	return nil, nil
}

func (d *Dispatcher) handleCopyConfig(ctx context.Context, sess *Session, input *tree.Element) (*tree.Element, error) {
	src := namedDatastore(input, "source", "running")
	dst := namedDatastore(input, "target", "candidate")
	if holder, locked := d.facade.LockHolder(dst); locked && holder != sess.ID {
		return nil, mgmterror.NewLockDeniedError(holder)
	}
	if res := d.facade.Copy(src, dst); res != datastore.OK {
		return nil, mgmterror.NewOperationFailedError(mgmterror.TypeApplication, "copy-config failed")
	}
	return nil, nil
}

func (d *Dispatcher) handleDeleteConfig(ctx context.Context, sess *Session, input *tree.Element) (*tree.Element, error) {
	name := namedDatastore(input, "target", "")
	if name == "" || name == "running" {
		return nil, mgmterror.NewOperationNotSupportedError(mgmterror.TypeApplication,
			"running cannot be deleted")
	}
	if holder, locked := d.facade.LockHolder(name); locked && holder != sess.ID {
		return nil, mgmterror.NewLockDeniedError(holder)
	}
	if res := d.facade.Delete(name); res != datastore.OK {
		return nil, mgmterror.NewOperationFailedError(mgmterror.TypeApplication, "delete-config failed")
	}
	return nil, nil
}

func (d *Dispatcher) handleValidate(ctx context.Context, sess *Session, input *tree.Element) (*tree.Element, error) {
	name := namedDatastore(input, "source", "candidate")
	if verrs := d.engine.Validate(name); len(verrs) > 0 {
		return nil, verrs[0]
	}
	return nil, nil
}

// handleDiscardChanges replaces candidate with running, undoing every
// uncommitted edit-config applied since the last commit or discard.
func (d *Dispatcher) handleDiscardChanges(ctx context.Context, sess *Session, input *tree.Element) (*tree.Element, error) {
	if res := d.facade.Copy("running", "candidate"); res != datastore.OK {
		return nil, mgmterror.NewOperationFailedError(mgmterror.TypeApplication, "discard-changes failed")
	}
	return nil, nil
}

func (d *Dispatcher) handleCommit(ctx context.Context, sess *Session, input *tree.Element) (*tree.Element, error) {
	result := d.engine.Commit("candidate")
	if len(result.Errors) > 0 {
		return nil, result.Errors[0]
	}

	if d.confirm == nil || input == nil {
		return nil, nil
	}
	if confirmed := input.Child("confirmed"); confirmed != nil {
		timeout := confirm.DefaultTimeout
		if ct := input.Child("confirm-timeout"); ct != nil && ct.Body != "" {
			if secs, err := strconv.Atoi(ct.Body); err == nil && secs > 0 {
				timeout = time.Duration(secs) * time.Second
			}
		}
		persistID := ""
		if pid := input.Child("persist"); pid != nil && len(pid.Children) > 0 {
			persistID = pid.Children[0].Name
		}
		// result.Rollback is running's state immediately before this
		// commit was applied -- the value a later automatic rollback
		// must restore, not the just-committed candidate.
		if merr, err := d.confirm.Begin(sess.ID, persistID, timeout, result.Rollback); merr != nil {
			return nil, merr
		} else if err != nil {
			return nil, mgmterror.NewOperationFailedError(mgmterror.TypeApplication, err.Error())
		}
	}
	return nil, nil
}

func (d *Dispatcher) handleConfirmedCommit(ctx context.Context, sess *Session, input *tree.Element) (*tree.Element, error) {
	if d.confirm == nil {
		return nil, mgmterror.NewOperationNotSupportedError(mgmterror.TypeApplication, "confirmed-commit not configured")
	}
	persistID := ""
	if input != nil {
		if pid := input.Child("persist-id"); pid != nil && len(pid.Children) > 0 {
			persistID = pid.Children[0].Name
		}
	}
	if merr := d.confirm.Confirm(sess.ID, persistID); merr != nil {
		return nil, merr
	}
	return nil, nil
}

func (d *Dispatcher) handleCancelCommit(ctx context.Context, sess *Session, input *tree.Element) (*tree.Element, error) {
	if d.confirm == nil {
		return nil, mgmterror.NewOperationNotSupportedError(mgmterror.TypeApplication, "confirmed-commit not configured")
	}
	if merr := d.confirm.Cancel(); merr != nil {
		return nil, merr
	}
	return nil, nil
}

func (d *Dispatcher) handleLock(ctx context.Context, sess *Session, input *tree.Element) (*tree.Element, error) {
	name := targetDatastore(input)
	if merr := d.Lock(sess, name); merr != nil {
		return nil, merr
	}
	return nil, nil
}

func (d *Dispatcher) handleUnlock(ctx context.Context, sess *Session, input *tree.Element) (*tree.Element, error) {
	name := targetDatastore(input)
	if merr := d.Unlock(sess, name); merr != nil {
		return nil, merr
	}
	return nil, nil
}

// handleCloseSession terminates the calling session gracefully: its own
// locks are released and its transport closed, same as kill-session but
// self-directed and requiring no session-id argument.
func (d *Dispatcher) handleCloseSession(ctx context.Context, sess *Session, input *tree.Element) (*tree.Element, error) {
	d.KillSession(sess.ID)
	return nil, nil
}

func (d *Dispatcher) handleKillSession(ctx context.Context, sess *Session, input *tree.Element) (*tree.Element, error) {
	if input == nil {
		return nil, mgmterror.NewMissingElementError(mgmterror.TypeApplication, "session-id")
	}
	sid := input.Child("session-id")
	if sid == nil || sid.Body == "" {
		return nil, mgmterror.NewMissingElementError(mgmterror.TypeApplication, "session-id")
	}
	id, err := strconv.Atoi(sid.Body)
	if err != nil {
		return nil, mgmterror.NewInvalidValueError(mgmterror.TypeApplication, "session-id must be an integer")
	}
	if _, ok := d.sessions.Get(int32(id)); !ok {
		return nil, mgmterror.NewOperationFailedError(mgmterror.TypeApplication, "no such session")
	}
	d.KillSession(int32(id))
	return nil, nil
}
