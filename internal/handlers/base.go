package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseUUID parses a UUID from a path parameter
func ParseUUID(c echo.Context, param string) (uuid.UUID, error) {
	idStr := c.Param(param)
	if idStr == "" {
		return uuid.Nil, httperror.NewHTTPError(http.StatusBadRequest, "missing "+param)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be a valid UUID", param)
	}

	return id, nil
}

// BindAndValidate decodes the request body into T and runs its validate tags
func BindAndValidate[T any](c echo.Context) (T, error) {
	var req T
	if err := c.Bind(&req); err != nil {
		return req, BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return req, BadRequest(validationErrorToString(err))
	}
	return req, nil
}

func validationErrorToString(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s=%s', got '%v'", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s'", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// SuccessResponse returns a 200 OK with data
func SuccessResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

// CreatedResponse returns a 201 Created with data
func CreatedResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, data)
}

// AcceptedResponse returns a 202 Accepted with data
func AcceptedResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusAccepted, data)
}

// BadRequest returns a 400 Bad Request error
func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}
