package services

import (
	"fmt"

	pkgerrors "github.com/yungbote/repairjourney-backend/internal/pkg/errors"
)

var (
	// ErrSessionNotFound is the only consolidator failure callers must handle:
	// a phase was recorded against a session the submission flow never created.
	ErrSessionNotFound = fmt.Errorf("repair session %w", pkgerrors.ErrNotFound)
	ErrInvalidPhase    = fmt.Errorf("journey phase: %w", pkgerrors.ErrInvalidArgument)
	ErrUserNotFound    = fmt.Errorf("user %w", pkgerrors.ErrNotFound)
)

// PersistError records which store rejected an artifact. It is logged and
// folded into the returned address scheme; it never reaches callers.
type PersistError struct {
	Stage string
	Key   string
	Err   error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s (%s): %v", e.Key, e.Stage, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
