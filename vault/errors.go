package vault

import (
	"errors"
	"fmt"
)

var (
	ErrWrongPassword          = errors.New("vault: wrong password")
	ErrCorrupted              = errors.New("vault: corrupt file")
	ErrUnsupportedVersion     = errors.New("vault: unsupported format version")
	ErrAuthFailed             = errors.New("vault: authentication failed")
	ErrLocked                 = errors.New("vault: locked")
	ErrAlreadyUnlocked        = errors.New("vault: already unlocked")
	ErrAlreadyExists          = errors.New("vault: already exists")
	ErrNotFound               = errors.New("vault: account not found")
	ErrInvalidSet             = errors.New("vault: id set does not match accounts")
	ErrInvalidAccount         = errors.New("vault: invalid account")
	ErrImmutableField         = errors.New("vault: field is immutable")
	ErrImportValidationFailed = errors.New("vault: import validation failed")
	ErrInvalidParams          = errors.New("vault: invalid parameters")
	ErrIO                     = errors.New("vault: i/o error")
)

// IOError is an underlying storage failure. It matches ErrIO and unwraps to
// the os error.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("vault: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

func ioErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

func invalidAccount(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidAccount, reason)
}
