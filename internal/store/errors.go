package store

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAuth marks a save rejected because the administrator credentials did
// not match. Callers should not retry it automatically.
var ErrAuth = errors.New("administrator credentials rejected")

// ErrNoController is returned by the worker operations when the store has no
// cache worker attached.
var ErrNoController = errors.New("no cache worker attached")

// ConfigLoadError reports that the base configuration could not be fetched
// or parsed. Load still returns a usable configuration alongside it.
type ConfigLoadError struct {
	Err error
}

func (e *ConfigLoadError) Error() string {
	return fmt.Sprintf("load configuration: %v", e.Err)
}

func (e *ConfigLoadError) Unwrap() error { return e.Err }

// ConfigSaveError reports a failed commit. Status is the HTTP status when the
// server answered, 0 for transport failures.
type ConfigSaveError struct {
	Status  int
	Message string
	Err     error
}

func (e *ConfigSaveError) Error() string {
	switch {
	case e.Status == http.StatusUnauthorized:
		return "save configuration: " + ErrAuth.Error()
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("save configuration: HTTP %d: %s", e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("save configuration: HTTP %d", e.Status)
	default:
		return fmt.Sprintf("save configuration: %v", e.Err)
	}
}

// Unwrap exposes the underlying error and, for 401 answers, ErrAuth.
func (e *ConfigSaveError) Unwrap() []error {
	errs := []error{e.Err}
	if e.Status == http.StatusUnauthorized {
		errs = append(errs, ErrAuth)
	}
	return errs
}

// OverrideCorruptError reports a stored override that is not a JSON object.
// It is logged and the override is treated as absent.
type OverrideCorruptError struct {
	Key string
	Err error
}

func (e *OverrideCorruptError) Error() string {
	return fmt.Sprintf("override %s is corrupt: %v", e.Key, e.Err)
}

func (e *OverrideCorruptError) Unwrap() error { return e.Err }
