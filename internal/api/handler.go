package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/analytics"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/ledger"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/models"
	"go.uber.org/zap"
)

// Defaults are used when a report request leaves a parameter out.
type Defaults struct {
	LowBalanceThreshold int64
	AbsenceDays         int
	UsageMonths         int
	HistoryLimit        int
}

// Handler translates HTTP requests into ledger and analytics calls.
// It holds no business rules of its own.
type Handler struct {
	Ledger    *ledger.Ledger
	Analytics *analytics.Engine
	Defaults  Defaults
	Log       *zap.Logger
}

type createStudentReq struct {
	FirstName    string `json:"first_name" validate:"required"`
	LastName     string `json:"last_name" validate:"required"`
	Note         string  `json:"note"`
	BirthDate    *string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	PackageTotal int64   `json:"package_total" validate:"gte=0"`
}

// Balance and PackageRemaining are only decoded so that attempts to edit the
// balance directly can be refused.
type updateStudentReq struct {
	FirstName        *string `json:"first_name" validate:"omitempty,min=1"`
	LastName         *string `json:"last_name" validate:"omitempty,min=1"`
	Note             *string `json:"note"`
	BirthDate        *string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Active           *bool   `json:"is_active"`
	Balance          *int64  `json:"balance"`
	PackageRemaining *int64  `json:"package_remaining"`
}

type addPackageReq struct {
	Count int64 `json:"count" validate:"gte=1"`
}

type balanceResp struct {
	StudentID  string `json:"student_id"`
	NewBalance int64  `json:"new_balance"`
}

// POST /students
func (h *Handler) CreateStudent(c echo.Context) error {
	var req createStudentReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	account, err := h.Ledger.CreateAccount(c.Request().Context(), ledger.NewAccount{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Note:         req.Note,
		BirthDate:    parseDate(req.BirthDate),
		PackageTotal: req.PackageTotal,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, account)
}

// GET /students?active_only=true
func (h *Handler) ListStudents(c echo.Context) error {
	var activeOnly bool
	if err := echo.QueryParamsBinder(c).Bool("active_only", &activeOnly).BindError(); err != nil {
		return h.fail(c, err)
	}
	accounts, err := h.Ledger.ListAccounts(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]models.StudentAccount, 0, len(accounts))
	for _, a := range accounts {
		if activeOnly && !a.Active {
			continue
		}
		out = append(out, a)
	}
	return c.JSON(http.StatusOK, out)
}

// GET /students/:id
func (h *Handler) GetStudent(c echo.Context) error {
	account, err := h.Ledger.GetAccount(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, account)
}

// PATCH /students/:id
func (h *Handler) UpdateStudent(c echo.Context) error {
	var req updateStudentReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	if req.Balance != nil || req.PackageRemaining != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"message": "balance can only change through deduct, undo or add_package",
		})
	}
	account, err := h.Ledger.UpdateProfile(c.Request().Context(), c.Param("id"), ledger.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Note:      req.Note,
		BirthDate: parseDate(req.BirthDate),
		Active:    req.Active,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, account)
}

// DELETE /students/:id
func (h *Handler) DeleteStudent(c echo.Context) error {
	if err := h.Ledger.DeleteAccount(c.Request().Context(), c.Param("id")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// POST /students/:id/deduct
func (h *Handler) Deduct(c echo.Context) error {
	account, err := h.Ledger.Deduct(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, balanceResp{StudentID: account.ID, NewBalance: account.Balance})
}

// POST /students/:id/undo
func (h *Handler) Undo(c echo.Context) error {
	account, err := h.Ledger.Undo(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, balanceResp{StudentID: account.ID, NewBalance: account.Balance})
}

// POST /students/:id/add_package
func (h *Handler) AddPackage(c echo.Context) error {
	var req addPackageReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	account, err := h.Ledger.AddPackage(c.Request().Context(), c.Param("id"), req.Count)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, balanceResp{StudentID: account.ID, NewBalance: account.Balance})
}

// GET /students/:id/logs
func (h *Handler) ListLogs(c echo.Context) error {
	entries, err := h.Ledger.ListEntries(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

// GET /reports/dashboard-stats?threshold=5&absence_days=7&months=6
func (h *Handler) DashboardStats(c echo.Context) error {
	threshold := h.Defaults.LowBalanceThreshold
	days := h.Defaults.AbsenceDays
	months := h.Defaults.UsageMonths
	err := echo.QueryParamsBinder(c).
		Int64("threshold", &threshold).
		Int("absence_days", &days).
		Int("months", &months).
		BindError()
	if err != nil {
		return h.fail(c, err)
	}

	dash, err := h.Analytics.Dashboard(c.Request().Context(), threshold, days, months)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, dash)
}

// GET /reports/history?limit=100
func (h *Handler) History(c echo.Context) error {
	limit := h.Defaults.HistoryLimit
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil {
		return h.fail(c, err)
	}
	feed, err := h.Analytics.ActivityFeed(c.Request().Context(), limit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, feed)
}

// GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// parseDate reads a YYYY-MM-DD value the validator has already accepted.
func parseDate(s *string) *time.Time {
	if s == nil {
		return nil
	}
	d, err := time.Parse(time.DateOnly, *s)
	if err != nil {
		return nil
	}
	return &d
}
