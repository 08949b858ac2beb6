package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaenox/line-relay/internal/models"
)

var ErrStoreUnavailable = errors.New("message store unavailable")

// Storage is the single writer of the received message collection. List
// returns messages in insertion order.
type Storage interface {
	Append(ctx context.Context, userID, message string) (*models.StoredMessage, error)
	List(ctx context.Context) ([]models.StoredMessage, error)
	Close() error
}

// UnavailableError wraps a backend failure
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrStoreUnavailable }

func unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Err: err}
}
