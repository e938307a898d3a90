package api

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Validator adapts go-playground/validator to echo.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	// report json names in validation errors
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

func (v *Validator) Validate(i interface{}) error {
	return v.v.Struct(i)
}

// NewServer builds the echo instance with middleware and every route.
func NewServer(h *Handler) *echo.Echo {
	if h.Log == nil {
		h.Log = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))
	e.Use(RequestLogger(h.Log))

	Register(e, h)
	return e
}

// Register mounts the routes under /api/v1, plus /health at the root.
func Register(e *echo.Echo, h *Handler) {
	e.GET("/health", h.Health)

	v1 := e.Group("/api/v1")

	v1.POST("/students", h.CreateStudent)
	v1.GET("/students", h.ListStudents)
	v1.GET("/students/:id", h.GetStudent)
	v1.PATCH("/students/:id", h.UpdateStudent)
	v1.DELETE("/students/:id", h.DeleteStudent)

	v1.POST("/students/:id/deduct", h.Deduct)
	v1.POST("/students/:id/undo", h.Undo)
	v1.POST("/students/:id/add_package", h.AddPackage)
	v1.GET("/students/:id/logs", h.ListLogs)

	v1.GET("/reports/dashboard-stats", h.DashboardStats)
	v1.GET("/reports/history", h.History)
}

// RequestLogger logs one line per request.
func RequestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let echo render the error so the logged status is the real one
				c.Error(err)
			}

			log.Info("http",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(start)),
				zap.String("req_id", c.Response().Header().Get(echo.HeaderXRequestID)),
				zap.String("ip", c.RealIP()),
			)
			return nil
		}
	}
}
