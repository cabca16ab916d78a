// Package respond maps pipeline faults onto HTTP errors so every
// controller translates them the same way.
package respond

import (
	"net/http"

	"github.com/houston-cloud/houston/internal/fault"
	"github.com/labstack/echo/v4"
)

// Error converts a service error into the matching echo HTTP error.
func Error(err error) error {
	if err == nil {
		return nil
	}

	if fault.IsNotFound(err) {
		return echo.ErrNotFound
	}

	if v, ok := fault.IsValidation(err); ok {
		httpErr := echo.NewHTTPError(http.StatusBadRequest, v.Message)
		if len(v.Fields) > 0 {
			httpErr.Message = map[string]interface{}{
				"message": v.Message,
				"fields":  v.Fields,
			}
		}
		return httpErr
	}

	if fault.IsForbidden(err) {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}

	if fault.IsConflict(err) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	return echo.ErrInternalServerError.SetInternal(err)
}
