package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/pkg/apperr"
	"github.com/hms/hms/pkg/response"
)

// ErrorHandler returns an echo.HTTPErrorHandler that renders every error in
// the response envelope. Unknown errors become 500s and are logged with the
// request id; their text is never sent to the client.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, message, fields := classify(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Msg("request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = response.Error(c, status, message, fields)
		}
		if werr != nil {
			logger.Warn().Err(werr).Msg("write error response")
		}
	}
}

func classify(err error) (int, string, map[string]string) {
	if ae, ok := apperr.As(err); ok {
		return ae.Status(), ae.Message, ae.Fields
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		switch m := he.Message.(type) {
		case string:
			msg = m
		case error:
			msg = m.Error()
		case nil:
		default:
			msg = fmt.Sprint(m)
		}
		return he.Code, msg, nil
	}

	return http.StatusInternalServerError, "internal server error", nil
}
