package utils

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestHttpError(t *testing.T) {
	testData := []struct {
		err    error
		status int
	}{
		{ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("task 3: %w", ErrNotFound), http.StatusNotFound},
		{ErrBadRequest, http.StatusBadRequest},
		{ErrParse, http.StatusBadRequest},
		{ErrAlreadyRunning, http.StatusConflict},
		{ErrClosed, http.StatusServiceUnavailable},
		{ErrNotInitialized, http.StatusServiceUnavailable},
	}

	for _, data := range testData {
		httpErr, ok := HttpError(data.err).(*echo.HTTPError)
		if assert.True(t, ok, data.err.Error()) {
			assert.Equal(t, data.status, httpErr.Code)
		}
	}

	assert.Equal(t, ErrOutOfMemory, HttpError(ErrOutOfMemory))
}
