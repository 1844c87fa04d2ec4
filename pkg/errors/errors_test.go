package errors_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/Aidin1998/amlscreen/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestExplainKeepsKind(t *testing.T) {
	err := errors.NotFound.Explain("alert %s not found", "a-1")

	assert.True(t, errors.Is(err, errors.NotFound))
	assert.False(t, errors.Is(err, errors.Validation))
	assert.Equal(t, "[NOT_FOUND] alert a-1 not found", err.Error())
	assert.Empty(t, errors.NotFound.Message, "predefined error must not be mutated")
}

func TestWrapAndStatus(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := fmt.Errorf("save: %w", errors.Persistence.Wrap(cause))

	assert.Equal(t, errors.KindPersistence, errors.KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusInternalServerError, errors.HTTPStatus(err))
}

func TestWithFieldDoesNotShareBacking(t *testing.T) {
	base := errors.Validation.WithField("required", "first_name", "is required")
	a := base.WithField("required", "last_name", "is required")
	b := base.WithField("iso3166_1_alpha2", "country", "invalid country")

	assert.Len(t, a.Fields, 2)
	assert.Len(t, b.Fields, 2)
	assert.Equal(t, "last_name", a.Fields[1].Field)
	assert.Equal(t, "country", b.Fields[1].Field)
	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatus(b))
}

func TestHTTPStatusForPlainError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, errors.HTTPStatus(fmt.Errorf("boom")))
	assert.Equal(t, http.StatusForbidden, errors.HTTPStatus(errors.Forbidden.Explain("missing role")))
	assert.Equal(t, http.StatusUnauthorized, errors.HTTPStatus(errors.Unauthenticated))
}
