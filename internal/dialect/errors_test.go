package dialect

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nl2sql/sqlcore/internal/coreerr"
)

func classifiedKind(t *testing.T, err error) coreerr.Kind {
	t.Helper()
	var c *coreerr.Classified
	if !errors.As(err, &c) {
		t.Fatalf("expected *coreerr.Classified, got %T", err)
	}
	return c.Kind
}

func TestClassifyGenericPermissionDenied(t *testing.T) {
	err := classifyGeneric(errors.New("permission denied for table foo"))
	assert.Equal(t, coreerr.KindUnsafe, classifiedKind(t, err))
}

func TestClassifyGenericUnmatchedFallsBackToInternal(t *testing.T) {
	err := classifyGeneric(errors.New("something the dialect has never seen before"))
	assert.Equal(t, coreerr.KindInternal, classifiedKind(t, err))
}

func TestErrReadOnlyRejectedClassifiesUnsafe(t *testing.T) {
	err := errReadOnlyRejected("DELETE FROM customers")
	assert.Equal(t, coreerr.KindUnsafe, classifiedKind(t, err))
	assert.Contains(t, err.Error(), "read-only policy")
}
