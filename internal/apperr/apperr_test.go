package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("out_of_range", "cpu_percent", "cpu_percent must be between 0 and 100"), http.StatusBadRequest},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("lookup: %w", ErrNotFound), http.StatusNotFound},
		{Store(errors.New("disk I/O error")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
	}
}

func TestIsMatchesKindAndCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Validation("missing_field", "hostname", "hostname is required"))
	assert.True(t, errors.Is(err, &Error{Kind: KindValidation}))
	assert.True(t, errors.Is(err, &Error{Kind: KindValidation, Code: "missing_field"}))
	assert.False(t, errors.Is(err, &Error{Kind: KindValidation, Code: "invalid_type"}))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestStoreHidesCause(t *testing.T) {
	cause := errors.New("database is locked")
	err := Store(cause)
	assert.Equal(t, "internal server error", err.Message)
	assert.ErrorIs(t, err, cause)
}
