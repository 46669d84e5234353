package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-eventhooks/core"
)

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, core.ErrNotFound) {
		return true
	}
	var richErr *goerrors.Error
	return goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryNotFound
}

// notFound maps driver and repository misses onto core.ErrNotFound so callers
// can use errors.Is regardless of the backing store.
func notFound(err error, resource string, id string) error {
	if isNotFound(err) {
		return fmt.Errorf("sqlstore: %s %q: %w", resource, id, core.ErrNotFound)
	}
	return err
}

func errNotConfigured(store string) error {
	return fmt.Errorf("sqlstore: %s store is not configured", store)
}
