package trace

import (
	"errors"

	"github.com/ben-ranford/nfttrace/internal/resolve"
)

var (
	// ErrModuleNotFound is wrapped by resolution failures. They are reported
	// as warnings, never returned from Trace.
	ErrModuleNotFound = resolve.ErrModuleNotFound
	ErrSymlinkCycle   = errors.New("recursive symlink detected")
	ErrFileMissing    = errors.New("traced file is missing")
)
