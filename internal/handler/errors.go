package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/content-license-server/internal/apperr"
	"github.com/iliyamo/content-license-server/internal/ratelimit"
)

// ErrorHandler renders every error in the OLP shape
// {"error": code, "error_description": ...}.  Protocol errors keep their
// status and headers; echo routing errors are mapped by status; anything
// else is logged and reported as server_error.
func ErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		ae, ok := apperr.As(err)
		if !ok {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				ae = fromHTTPError(he)
			} else {
				log.Error().Err(err).Str("method", c.Request().Method).Str("path", c.Path()).Msg("request failed")
				ae = apperr.ServerError("internal server error")
			}
		}
		for k, v := range ae.Headers {
			c.Response().Header().Set(k, v)
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(ae.Status)
		} else {
			err = c.JSON(ae.Status, ae.Body())
		}
		if err != nil {
			log.Error().Err(err).Msg("write error response")
		}
	}
}

func fromHTTPError(he *echo.HTTPError) *apperr.Error {
	msg := http.StatusText(he.Code)
	if s, ok := he.Message.(string); ok && s != "" {
		msg = s
	}
	switch he.Code {
	case http.StatusNotFound:
		return apperr.NotFound(msg)
	case http.StatusMethodNotAllowed, http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
		return apperr.New(he.Code, apperr.CodeInvalidRequest, msg)
	case http.StatusUnauthorized:
		return apperr.InvalidClient(msg)
	}
	if he.Code >= 500 {
		return apperr.New(he.Code, apperr.CodeServerError, msg)
	}
	return apperr.New(he.Code, apperr.CodeInvalidRequest, msg)
}

func setRateHeaders(c echo.Context, rl ratelimit.Result) {
	for k, v := range rl.Headers() {
		c.Response().Header().Set(k, v)
	}
}
