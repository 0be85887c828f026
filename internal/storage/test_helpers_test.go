package storage

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/dispatch-orchestrator/internal/errors"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// categoryOf returns the error category, empty for nil
func categoryOf(err error) apperrors.ErrorCategory {
	if c := apperrors.Categorize(err); c != nil {
		return c.Category
	}
	return ""
}
