package handler

import (
    "errors"   // errors.As unwraps validator failures
    "net/http" // status codes
    "reflect"  // struct field tags for error names
    "strings"  // field list formatting

    "github.com/go-playground/validator/v10" // struct tag validation
    "github.com/labstack/echo/v4"            // echo.Validator interface
)

// RequestValidator adapts validator/v10 to echo.Validator so handlers can
// call c.Validate on bound request bodies.
type RequestValidator struct {
    v *validator.Validate
}

// NewRequestValidator builds a validator that reports json field names.
func NewRequestValidator() *RequestValidator {
    v := validator.New(validator.WithRequiredStructEnabled())
    v.RegisterTagNameFunc(func(f reflect.StructField) string {
        name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
        if name == "-" {
            return ""
        }
        return name
    })
    return &RequestValidator{v: v}
}

// Validate implements echo.Validator.
func (rv *RequestValidator) Validate(i any) error {
    return rv.v.Struct(i)
}

// bindAndValidate binds the JSON body into req and runs the struct tags.
// On failure it writes the 400 response and returns ok=false.
func bindAndValidate(c echo.Context, req any) (bool, error) {
    if err := c.Bind(req); err != nil {
        return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if err := c.Validate(req); err != nil {
        var ve validator.ValidationErrors
        if errors.As(err, &ve) {
            fields := make(map[string]string, len(ve))
            for _, fe := range ve {
                fields[fe.Field()] = fe.Tag()
            }
            return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_failed", "fields": fields})
        }
        return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_failed"})
    }
    return true, nil
}
