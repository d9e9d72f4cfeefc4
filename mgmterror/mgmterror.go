// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package mgmterror builds the RFC 6241 Appendix A rpc-error artifacts
// that every failure path in this backend reports. The tree (MgmtError)
// is the single source of truth; serialized XML is a render of the tree,
// never a parallel code path.
package mgmterror

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// ErrorType is the outer <error-type> discriminant.
type ErrorType string

const (
	TypeTransport   ErrorType = "transport"
	TypeRPC         ErrorType = "rpc"
	TypeProtocol    ErrorType = "protocol"
	TypeApplication ErrorType = "application"
)

// Tag values, RFC 6241 Appendix A.
const (
	TagInUse                 = "in-use"
	TagInvalidValue           = "invalid-value"
	TagTooBig                 = "too-big"
	TagMissingAttribute       = "missing-attribute"
	TagBadAttribute           = "bad-attribute"
	TagUnknownAttribute       = "unknown-attribute"
	TagMissingElement         = "missing-element"
	TagBadElement             = "bad-element"
	TagUnknownElement         = "unknown-element"
	TagUnknownNamespace       = "unknown-namespace"
	TagAccessDenied           = "access-denied"
	TagLockDenied             = "lock-denied"
	TagResourceDenied         = "resource-denied"
	TagRollbackFailed         = "rollback-failed"
	TagDataExists             = "data-exists"
	TagDataMissing            = "data-missing"
	TagOperationNotSupported  = "operation-not-supported"
	TagOperationFailed        = "operation-failed"
	TagMalformedMessage       = "malformed-message"
	TagDataNotUnique          = "data-not-unique"
	TagTooManyElements        = "too-many-elements"
	TagTooFewElements         = "too-few-elements"
)

const errorMsgSeparator = ": "

// yangNamespace is used for the error-info children this package mints
// (non-unique, missing-choice, session-id) per RFC 6241 Appendix A.
const yangNamespace = "urn:ietf:params:xml:ns:netconf:base:1.0"

// MgmtErrorInfoTag is one child of <error-info>.
type MgmtErrorInfoTag struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// MgmtErrorInfo is the ordered set of <error-info> children.
type MgmtErrorInfo []MgmtErrorInfoTag

// MgmtError is the canonical, in-memory tree form of one <rpc-error>.
// All constructors in this package return one of these; Render and
// RpcReply.Render derive the serialized form from it.
type MgmtError struct {
	XMLName  xml.Name      `xml:"rpc-error"`
	Typ      string        `xml:"error-type"`
	Tag      string        `xml:"error-tag"`
	Severity string        `xml:"error-severity"`
	AppTag   string        `xml:"error-app-tag,omitempty"`
	Path     string        `xml:"error-path,omitempty"`
	Message  string        `xml:"error-message,omitempty"`
	Info     MgmtErrorInfo `xml:"error-info,omitempty"`
}

func newMgmtError() *MgmtError {
	return &MgmtError{Severity: "error"}
}

// Error implements the error interface with a terse one-line rendering;
// this is what ends up in logs, not the client-facing serialization.
func (e *MgmtError) Error() string {
	var b bytes.Buffer
	b.WriteString(strings.Title(e.Severity))
	b.WriteString(errorMsgSeparator)
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(errorMsgSeparator)
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(e.Tag)
	}
	return b.String()
}

func newTagged(typ ErrorType, tag, message string) *MgmtError {
	e := newMgmtError()
	e.Typ = string(typ)
	e.Tag = tag
	e.Message = message
	return e
}

// New constructs a bare error with the caller-supplied type and tag. Used
// directly by callers that already know their type/tag combination (e.g.
// the validator choosing operation-failed with a specific error-app-tag);
// the NewXxxError helpers below cover the common, spec-named cases.
func New(typ ErrorType, tag, message string) *MgmtError {
	return newTagged(typ, tag, message)
}

// --- one constructor per RFC 6241 Appendix A tag -------------------------
//
// Per spec, lock-denied is always "protocol", malformed-message is always
// "rpc", and data-exists is always "application"; every other tag accepts
// the caller-supplied type.

func NewInUseError(typ ErrorType, message string) *MgmtError {
	return newTagged(typ, TagInUse, message)
}

func NewInvalidValueError(typ ErrorType, message string) *MgmtError {
	return newTagged(typ, TagInvalidValue, message)
}

func NewTooBigError(typ ErrorType, message string) *MgmtError {
	return newTagged(typ, TagTooBig, message)
}

func NewMissingAttributeError(typ ErrorType, element, attribute string) *MgmtError {
	e := newTagged(typ, TagMissingAttribute,
		fmt.Sprintf("An expected attribute is missing: %s", attribute))
	e.Info = MgmtErrorInfo{
		{XMLName: xml.Name{Space: yangNamespace, Local: "bad-attribute"}, Value: attribute},
		{XMLName: xml.Name{Space: yangNamespace, Local: "bad-element"}, Value: element},
	}
	return e
}

func NewBadAttributeError(typ ErrorType, element, attribute string) *MgmtError {
	e := newTagged(typ, TagBadAttribute,
		fmt.Sprintf("An attribute value is not correct: %s", attribute))
	e.Info = MgmtErrorInfo{
		{XMLName: xml.Name{Space: yangNamespace, Local: "bad-attribute"}, Value: attribute},
		{XMLName: xml.Name{Space: yangNamespace, Local: "bad-element"}, Value: element},
	}
	return e
}

func NewUnknownAttributeError(typ ErrorType, element, attribute string) *MgmtError {
	e := newTagged(typ, TagUnknownAttribute,
		fmt.Sprintf("An unexpected attribute is present: %s", attribute))
	e.Info = MgmtErrorInfo{
		{XMLName: xml.Name{Space: yangNamespace, Local: "bad-attribute"}, Value: attribute},
		{XMLName: xml.Name{Space: yangNamespace, Local: "bad-element"}, Value: element},
	}
	return e
}

func NewMissingElementError(typ ErrorType, element string) *MgmtError {
	e := newTagged(typ, TagMissingElement,
		fmt.Sprintf("An expected element is missing: %s", element))
	e.Info = MgmtErrorInfo{
		{XMLName: xml.Name{Space: yangNamespace, Local: "bad-element"}, Value: element},
	}
	return e
}

func NewBadElementError(typ ErrorType, element string) *MgmtError {
	e := newTagged(typ, TagBadElement,
		fmt.Sprintf("An element value is not correct: %s", element))
	e.Info = MgmtErrorInfo{
		{XMLName: xml.Name{Space: yangNamespace, Local: "bad-element"}, Value: element},
	}
	return e
}

func NewUnknownElementError(typ ErrorType, element string) *MgmtError {
	e := newTagged(typ, TagUnknownElement,
		fmt.Sprintf("An unexpected element is present: %s", element))
	e.Info = MgmtErrorInfo{
		{XMLName: xml.Name{Space: yangNamespace, Local: "bad-element"}, Value: element},
	}
	return e
}

func NewUnknownNamespaceError(typ ErrorType, element, namespace string) *MgmtError {
	e := newTagged(typ, TagUnknownNamespace,
		fmt.Sprintf("An unexpected namespace is present: %s", namespace))
	e.Info = MgmtErrorInfo{
		{XMLName: xml.Name{Space: yangNamespace, Local: "bad-element"}, Value: element},
		{XMLName: xml.Name{Space: yangNamespace, Local: "bad-namespace"}, Value: namespace},
	}
	return e
}

// NewAccessDeniedError is used for both data-node (application) and RPC
// (protocol) authorization failures; caller picks typ accordingly.
func NewAccessDeniedError(typ ErrorType, message string) *MgmtError {
	return newTagged(typ, TagAccessDenied, message)
}

// NewLockDeniedError is always type=protocol. sessionID is the id of the
// session currently holding the lock (0 if unknown/system-held).
func NewLockDeniedError(sessionID int32) *MgmtError {
	e := newTagged(TypeProtocol, TagLockDenied,
		"Access to the requested lock is denied because the lock is currently held by another entity")
	e.Info = MgmtErrorInfo{
		{XMLName: xml.Name{Space: yangNamespace, Local: "session-id"}, Value: fmt.Sprintf("%d", sessionID)},
	}
	return e
}

func NewResourceDeniedError(typ ErrorType, message string) *MgmtError {
	return newTagged(typ, TagResourceDenied, message)
}

// NewRollbackFailedError carries the three rollback result-flag bits in
// error-info: not-applied, db-not-deleted, failsafe-applied.
func NewRollbackFailedError(typ ErrorType, notApplied, dbNotDeleted, failsafeApplied bool) *MgmtError {
	e := newTagged(typ, TagRollbackFailed, "Request to roll back some configuration change was not completed for some reason")
	e.Info = MgmtErrorInfo{
		{XMLName: xml.Name{Space: yangNamespace, Local: "not-applied"}, Value: fmt.Sprintf("%t", notApplied)},
		{XMLName: xml.Name{Space: yangNamespace, Local: "db-not-deleted"}, Value: fmt.Sprintf("%t", dbNotDeleted)},
		{XMLName: xml.Name{Space: yangNamespace, Local: "failsafe-applied"}, Value: fmt.Sprintf("%t", failsafeApplied)},
	}
	return e
}

// NewDataExistsError is always type=application.
func NewDataExistsError(path string) *MgmtError {
	e := newTagged(TypeApplication, TagDataExists,
		"Data already exists; cannot create new resource")
	e.Path = path
	return e
}

func NewDataMissingError(path string) *MgmtError {
	e := newTagged(TypeApplication, TagDataMissing,
		"Data is missing; cannot complete the requested operation")
	e.Path = path
	return e
}

func NewOperationNotSupportedError(typ ErrorType, message string) *MgmtError {
	return newTagged(typ, TagOperationNotSupported, message)
}

func NewOperationFailedError(typ ErrorType, message string) *MgmtError {
	return newTagged(typ, TagOperationFailed, message)
}

// NewMalformedMessageError is always type=rpc.
func NewMalformedMessageError(message string) *MgmtError {
	return newTagged(TypeRPC, TagMalformedMessage, message)
}

// NewDataNotUniqueError carries one error-info/non-unique child per
// offending sibling path, for a violated "unique" constraint.
func NewDataNotUniqueError(listPath string, siblingPaths []string) *MgmtError {
	e := newTagged(TypeApplication, TagOperationFailed,
		"Unique constraint violated")
	e.AppTag = TagDataNotUnique
	e.Path = listPath
	for _, p := range siblingPaths {
		e.Info = append(e.Info, MgmtErrorInfoTag{
			XMLName: xml.Name{Space: yangNamespace, Local: "non-unique"}, Value: p,
		})
	}
	return e
}

func NewTooManyElementsError(listPath string) *MgmtError {
	e := newTagged(TypeApplication, TagOperationFailed,
		"Too many elements")
	e.AppTag = TagTooManyElements
	e.Path = listPath
	return e
}

func NewTooFewElementsError(listPath string) *MgmtError {
	e := newTagged(TypeApplication, TagOperationFailed,
		"Too few elements")
	e.AppTag = TagTooFewElements
	e.Path = listPath
	return e
}

// NewMissingChoiceError reports a mandatory-choice violation: error-app-tag
// "missing-choice" and an error-info/missing-choice naming the choice.
func NewMissingChoiceError(path, choiceName string) *MgmtError {
	e := newTagged(TypeApplication, TagDataMissing, "Missing mandatory choice")
	e.AppTag = "missing-choice"
	e.Path = path
	e.Info = MgmtErrorInfo{
		{XMLName: xml.Name{Space: yangNamespace, Local: "missing-choice"}, Value: choiceName},
	}
	return e
}

// NewMustViolationError reports a failed "must"/"when" predicate with the
// XPath-defined error-app-tag, if any.
func NewMustViolationError(path, appTag, message string) *MgmtError {
	e := newTagged(TypeApplication, TagOperationFailed, message)
	e.AppTag = appTag
	e.Path = path
	return e
}

// --- rendering ------------------------------------------------------------

// Render produces the canonical serialized form of a single rpc-error.
func Render(e *MgmtError) string {
	var b bytes.Buffer
	enc := xml.NewEncoder(&b)
	enc.Indent("", "  ")
	if err := enc.Encode(e); err != nil {
		// Construction errors only; formatting failure here means the
		// tree itself is malformed, which this package never produces.
		return fmt.Sprintf("<!-- failed to render error: %s -->", err)
	}
	return b.String()
}

// RpcReply wraps one or more rpc-errors in the outer envelope, or a bare
// <ok/> when Errors is empty.
type RpcReply struct {
	XMLName xml.Name     `xml:"rpc-reply"`
	OK      *struct{}    `xml:"ok,omitempty"`
	Errors  []*MgmtError `xml:"rpc-error,omitempty"`
}

func NewOKReply() *RpcReply {
	return &RpcReply{OK: &struct{}{}}
}

func NewErrorReply(errs ...*MgmtError) *RpcReply {
	return &RpcReply{Errors: errs}
}

func (r *RpcReply) Render() string {
	var b bytes.Buffer
	enc := xml.NewEncoder(&b)
	enc.Indent("", "  ")
	enc.Encode(r)
	return b.String()
}

// MergeResult distinguishes fatal failures (out-of-memory style
// construction errors) from a recoverable validation failure that was
// turned into a structured error, from complete success.
type MergeResult int

const (
	MergeOK MergeResult = iota
	MergeRecoverableError
	MergeFatal
)

// MergeInto is a merge helper: on failure it trims target (the caller's
// in-progress output tree) back to empty and installs a single error:
// err itself when it is a *MgmtError, otherwise an operation-failed
// error carrying err's text.
func MergeInto(target *RpcReply, err error) MergeResult {
	if err == nil {
		return MergeOK
	}
	target.OK = nil
	target.Errors = nil
	if me, ok := err.(*MgmtError); ok {
		target.Errors = append(target.Errors, me)
		return MergeRecoverableError
	}
	e := NewOperationFailedError(TypeApplication, err.Error())
	target.Errors = append(target.Errors, e)
	return MergeRecoverableError
}
