package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"tls_portal_go/services"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func statusForKind(kind services.ErrorKind) int {
	switch kind {
	case services.KindInvalidArgument:
		return http.StatusBadRequest
	case services.KindUnauthenticated:
		return http.StatusUnauthorized
	case services.KindPermissionDenied:
		return http.StatusForbidden
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindFailedPrecondition:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func kindForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return string(services.KindInvalidArgument)
	case http.StatusUnauthorized:
		return string(services.KindUnauthenticated)
	case http.StatusForbidden:
		return string(services.KindPermissionDenied)
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return string(services.KindNotFound)
	case http.StatusTooManyRequests:
		return "resource-exhausted"
	}
	if status >= 500 {
		return string(services.KindInternal)
	}
	return string(services.KindFailedPrecondition)
}

// NewHTTPErrorHandler renders every error as {"error":{"kind","message"}}.
// Internal causes are logged and never sent to the caller.
func NewHTTPErrorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			status int
			body   errorBody
			se     *services.Error
			he     *echo.HTTPError
		)
		switch {
		case errors.As(err, &se):
			status = statusForKind(se.Kind)
			body = errorBody{Kind: string(se.Kind), Message: se.Message}
		case errors.As(err, &he):
			status = he.Code
			body = errorBody{Kind: kindForStatus(status), Message: fmt.Sprint(he.Message)}
		default:
			status = http.StatusInternalServerError
			body = errorBody{Kind: string(services.KindInternal), Message: "Internal server error"}
		}

		if status >= 500 {
			log.Error("Request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Error(err))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, errorResponse{Error: body})
		}
		if err != nil {
			log.Warn("Failed to write error response", zap.Error(err))
		}
	}
}
