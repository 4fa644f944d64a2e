package capsule

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound matches 404 answers.
	ErrNotFound = errors.New("not found")
	// ErrForbidden matches 403 answers, which the backend also uses for vaults
	// owned by someone else.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict matches 409 answers, such as a duplicate vault name.
	ErrConflict = errors.New("conflict")
)

// StatusError is a non-2xx answer from the vault API.
type StatusError struct {
	Op      string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("capsule %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("capsule %s: status %d: %s", e.Op, e.Status, e.Message)
}

// Is maps well-known statuses to the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrConflict:
		return e.Status == http.StatusConflict
	}
	return false
}
