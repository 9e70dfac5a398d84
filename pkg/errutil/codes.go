// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package errutil holds the error codes shared by the parser and the plugin
// runtime, plus helpers for logging and asserting oops errors.
package errutil

// Error codes attached with oops.Code. Callers match on these rather than on
// message text.
const (
	CodeParse             = "PARSE_ERROR"
	CodeUnknownType       = "UNKNOWN_TYPE"
	CodeUnresolvedKeyset  = "UNRESOLVED_KEYSET"
	CodeInstanceNotFound  = "INSTANCE_NOT_FOUND"
	CodeExportNotFound    = "EXPORT_NOT_FOUND"
	CodeSignatureMismatch = "SIGNATURE_MISMATCH"
	CodeTrap              = "TRAP"
	CodeNonPrimitive      = "NON_PRIMITIVE_IN_CONTAINER"
	CodeCapacityExceeded  = "CAPACITY_EXCEEDED"
	CodeDoubleInit        = "DOUBLE_INITIALIZATION"
	CodeLockPoisoned      = "LOCK_POISONED"

	CodeNotInitialized    = "NOT_INITIALIZED"
	CodeUnsupportedType   = "UNSUPPORTED_TYPE"
	CodeGuestError        = "GUEST_ERROR"
	CodeHostFunction      = "HOST_FUNCTION_ERROR"
	CodeCapabilityDenied  = "CAPABILITY_DENIED"
	CodeCallTimeout       = "CALL_TIMEOUT"
	CodeInvalidEncoding   = "INVALID_ENCODING"
	CodeLoadFailed        = "LOAD_FAILED"
	CodeInvalidArgument   = "INVALID_ARGUMENT"
)

// Code returns the oops code carried by err, or "" if err is not an oops
// error or has no code.
func Code(err error) string {
	if err == nil {
		return ""
	}
	oopsErr, ok := asOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}
