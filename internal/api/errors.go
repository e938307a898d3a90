package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/ledger"
	"go.uber.org/zap"
)

// statusOf maps domain errors to HTTP status codes. 0 means unexpected.
func statusOf(err error) int {
	var bindErr *echo.BindingError
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrNoReversibleEntry):
		// benign: the client shows "nothing to undo"
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidInput), errors.As(err, &bindErr):
		return http.StatusBadRequest
	}
	return 0
}

// fail turns err into the HTTP error echo renders as {"message": ...}.
func (h *Handler) fail(c echo.Context, err error) error {
	if code := statusOf(err); code != 0 {
		return echo.NewHTTPError(code, message(err))
	}
	h.Log.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func message(err error) string {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return ledger.ErrNotFound.Error()
	case errors.Is(err, ledger.ErrNoReversibleEntry):
		return ledger.ErrNoReversibleEntry.Error()
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return ledger.ErrInsufficientBalance.Error()
	}
	return err.Error()
}

// bindValid decodes the request body into req and runs the validator.
func bindValid(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	if err := c.Validate(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			return echo.NewHTTPError(http.StatusBadRequest, echo.Map{
				"message": "validation error",
				"errors":  fields,
			})
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
