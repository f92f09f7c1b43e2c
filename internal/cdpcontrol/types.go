package cdpcontrol

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgnsrekt/overlay_agent/internal/clienterr"
	"github.com/dgnsrekt/overlay_agent/internal/host"
)

// Transport failure codes. None of them is user facing.
const (
	CodeCDPUnavailable = "CDP_UNAVAILABLE"
	CodeEvalFailure    = "EVAL_FAILURE"
	CodeEvalTimeout    = "EVAL_TIMEOUT"
)

func newError(code, msg string, cause error) error {
	return clienterr.New(code, msg, cause)
}

// closedHints are CDP error messages meaning the tab went away mid-call.
var closedHints = []string{
	"no target with given id",
	"session with given id not found",
	"target closed",
	"session closed",
}

// staleContextHint is returned when an isolated world died with its document.
const staleContextHint = "cannot find context with specified id"

func noTab(id host.TabID) error {
	return fmt.Errorf("%w: %s", host.ErrNoTab, id)
}

// wrapTabErr classifies a failed page-level call.
func wrapTabErr(msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(CodeEvalTimeout, msg, err)
	}
	lower := strings.ToLower(err.Error())
	for _, hint := range closedHints {
		if strings.Contains(lower, hint) {
			return fmt.Errorf("%w: %v", host.ErrTabClosed, err)
		}
	}
	return newError(CodeEvalFailure, msg, err)
}
