// Package response writes the JSON envelope shared by every endpoint.
package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Data    interface{}       `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func OK(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, Envelope{Status: StatusSuccess, Data: data})
}

func Created(c echo.Context, message string, data interface{}) error {
	return c.JSON(http.StatusCreated, Envelope{Status: StatusSuccess, Message: message, Data: data})
}

// Message writes a 200 success envelope without data.
func Message(c echo.Context, message string) error {
	return c.JSON(http.StatusOK, Envelope{Status: StatusSuccess, Message: message})
}

// WithMessage writes a 200 success envelope carrying both message and data.
func WithMessage(c echo.Context, message string, data interface{}) error {
	return c.JSON(http.StatusOK, Envelope{Status: StatusSuccess, Message: message, Data: data})
}

func Error(c echo.Context, status int, message string, fields map[string]string) error {
	return c.JSON(status, Envelope{Status: StatusError, Message: message, Errors: fields})
}
