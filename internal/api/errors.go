package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/pkg/errors"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string { return e.msg }

func (e invalidRequestError) Unwrap() error { return ErrInvalidRequest }

func newInvalidRequest(format string, args ...any) error {
	return invalidRequestError{msg: fmt.Sprintf(format, args...)}
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]ErrorBody{
		"error": {Message: msg, Type: errType},
	})
}

func writeBadRequest(c *echo.Context, err error) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
}
