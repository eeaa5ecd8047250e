package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/SensibleWeather/artifact.ci/common/apperr"
	"github.com/SensibleWeather/artifact.ci/common/sdk"
)

// ErrorHandler renders every error as {message, error?} with the status of
// its apperr kind. Unclassified errors become a 500 without internal detail.
func ErrorHandler() echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := RenderError(err)
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}

// RenderError maps err to a status code and response body
func RenderError(err error) (int, sdk.ErrorResponse) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := fmt.Sprint(he.Message)
		if m, ok := he.Message.(string); ok {
			msg = m
		}
		return he.Code, sdk.ErrorResponse{Message: msg}
	}

	appErr := apperr.From(err)
	return appErr.Status(), sdk.ErrorResponse{
		Message: appErr.Message,
		Error:   appErr.Detail,
	}
}
