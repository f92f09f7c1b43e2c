// Package clienterr holds the typed errors returned when the overlay cannot
// be installed on, or removed from, a tab.
package clienterr

import (
	"errors"
	"fmt"
	"strings"
)

const (
	CodeLocalFile          = "LOCAL_FILE"
	CodeNoFileAccess       = "NO_FILE_ACCESS"
	CodeRestrictedProtocol = "RESTRICTED_PROTOCOL"
	CodeBlockedSite        = "BLOCKED_SITE"
	CodeAlreadyInjected    = "ALREADY_INJECTED"
	CodePermission         = "PERMISSION"
	CodeFrameNotFound      = "FRAME_NOT_FOUND"
	CodeScriptFailure      = "SCRIPT_FAILURE"
)

// Codes shown to the user through the help page. Failures with one of these
// codes are expected and never reported as crashes.
var knownCodes = map[string]bool{
	CodeLocalFile:          true,
	CodeNoFileAccess:       true,
	CodeRestrictedProtocol: true,
	CodeBlockedSite:        true,
	CodeAlreadyInjected:    true,
	CodePermission:         true,
}

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// New builds a CodedError.
func New(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

func LocalFile() error {
	return New(CodeLocalFile, "local files can only be annotated when they are PDFs", nil)
}

func NoFileAccess() error {
	return New(CodeNoFileAccess, "access to file URLs has not been allowed", nil)
}

func RestrictedProtocol(scheme string) error {
	return New(CodeRestrictedProtocol, fmt.Sprintf("cannot annotate %s: pages", scheme), nil)
}

func BlockedSite() error {
	return New(CodeBlockedSite, "annotating this site is not supported", nil)
}

func AlreadyInjected(installedURL string) error {
	return New(CodeAlreadyInjected, "another copy of the overlay is already running: "+installedURL, nil)
}

// Permission reports a capability the user did not grant. Message is shown
// to the user as is.
func Permission(msg string) error {
	return New(CodePermission, msg, nil)
}

func FrameNotFound(what string) error {
	return New(CodeFrameNotFound, what+" frame not found", nil)
}

func ScriptFailure(op string, cause error) error {
	return New(CodeScriptFailure, op+" script failed", cause)
}

// Code returns the code of the first CodedError in err's chain, or "".
func Code(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// IsKnown reports whether err is an expected, user-facing failure.
func IsKnown(err error) bool {
	return knownCodes[Code(err)]
}

var noisePatterns = []string{
	"tab was closed",
	"no tab with id",
	"cannot access contents of url",
	"extensions gallery cannot be scripted",
}

// IsNoise reports whether err is one of the platform failures that happen
// in normal use (tab closed mid-operation and alike).
func IsNoise(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range noisePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// UserMessage returns the message suitable for the help UI.
func UserMessage(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
