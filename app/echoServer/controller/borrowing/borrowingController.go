package borrowing

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Danylo-D87/library-service/app/echoServer/jwtx"
	bs "github.com/Danylo-D87/library-service/service/borrowing"
)

type Controller struct {
	Svc bs.Service
	V   *validator.Validate
	Log *slog.Logger
}

// POST /v1/borrowings
func (h *Controller) Create(c echo.Context) error {
	var req CreateBorrowingReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid JSON"})
	}
	if err := h.V.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"message": "validation error",
			"errors":  err.Error(),
		})
	}
	expected, err := time.Parse("2006-01-02", req.ExpectedReturnDate)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid expected_return_date"})
	}
	uid, err := jwtx.UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
	}

	out, err := h.Svc.Create(c.Request().Context(), uid, req.BookID, expected)
	if err != nil {
		h.Log.Error("borrowing create", "err", err)
		switch bs.Code(err) {
		case bs.ErrNoStock:
			return c.JSON(http.StatusConflict, echo.Map{"message": "book inventory is empty"})
		case bs.ErrBookNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "book not found"})
		case bs.ErrInvalidPeriod:
			return c.JSON(http.StatusBadRequest, echo.Map{"message": "expected return date must be after today"})
		case bs.ErrUnpaidExists:
			return c.JSON(http.StatusConflict, echo.Map{"message": "you have unpaid borrowings"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
		}
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"borrowing":    out.Borrowing,
		"checkout_url": out.CheckoutURL,
		"amount":       out.Amount,
	})
}

// POST /v1/borrowings/:id/return
func (h *Controller) Return(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	uid, err := jwtx.UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
	}

	out, err := h.Svc.Return(c.Request().Context(), uid, jwtx.IsStaff(c), id)
	if err != nil {
		h.Log.Error("borrowing return", "err", err)
		switch bs.Code(err) {
		case bs.ErrNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "borrowing not found"})
		case bs.ErrForbidden:
			return c.JSON(http.StatusForbidden, echo.Map{"message": "forbidden"})
		case bs.ErrAlreadyReturned:
			return c.JSON(http.StatusConflict, echo.Map{"message": "book has already been returned"})
		case bs.ErrNotBorrowed:
			return c.JSON(http.StatusConflict, echo.Map{"message": "borrowing is not active"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
		}
	}

	resp := echo.Map{"borrowing": out.Borrowing}
	if out.FineAmount != nil {
		resp["fine_amount"] = out.FineAmount
		resp["fine_payment_url"] = out.FinePaymentURL
	}
	return c.JSON(http.StatusOK, resp)
}

// GET /v1/borrowings?is_active=&user_id=
func (h *Controller) List(c echo.Context) error {
	uid, err := jwtx.UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
	}

	var f bs.ListFilter
	if v := c.QueryParam("is_active"); v != "" {
		active := v == "true" || v == "1"
		f.IsActive = &active
	}
	if v := c.QueryParam("user_id"); v != "" {
		filterID, err := strconv.ParseInt(v, 10, 64)
		if err != nil || filterID <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid user_id"})
		}
		f.UserID = &filterID
	}

	rows, err := h.Svc.List(c.Request().Context(), uid, jwtx.IsStaff(c), f)
	if err != nil {
		if bs.Code(err) == bs.ErrForbidden {
			return c.JSON(http.StatusForbidden, echo.Map{"message": "only staff can filter by user_id"})
		}
		h.Log.Error("borrowing list", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"data": rows})
}

// GET /v1/borrowings/:id
func (h *Controller) Detail(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	uid, err := jwtx.UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
	}

	b, err := h.Svc.Get(c.Request().Context(), uid, jwtx.IsStaff(c), id)
	if err != nil {
		switch bs.Code(err) {
		case bs.ErrNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "borrowing not found"})
		case bs.ErrForbidden:
			return c.JSON(http.StatusForbidden, echo.Map{"message": "forbidden"})
		default:
			h.Log.Error("borrowing detail", "err", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
		}
	}
	return c.JSON(http.StatusOK, b)
}
