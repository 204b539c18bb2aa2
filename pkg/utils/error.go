package utils

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrAlreadyRunning   = fmt.Errorf("Already running")
	ErrBadRequest       = fmt.Errorf("Bad request")
	ErrClosed           = fmt.Errorf("Closed")
	ErrNotFound         = fmt.Errorf("Not found")
	ErrNotInitialized   = fmt.Errorf("Not initialized")
	ErrOutOfMemory      = fmt.Errorf("Out of device memory")
	ErrParse            = fmt.Errorf("Parse error")
	ErrRetriesExhausted = fmt.Errorf("Retry limit reached")
)

// Convert errors to echo errors with HTTP status codes
func HttpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrParse):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAlreadyRunning):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrClosed), errors.Is(err, ErrNotInitialized):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return err
}
