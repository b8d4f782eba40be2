package payment

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Danylo-D87/library-service/app/echoServer/jwtx"
	paymentsvc "github.com/Danylo-D87/library-service/service/payment"
)

type Controller struct {
	Svc paymentsvc.Service
	Log *slog.Logger
}

// POST /v1/payments/webhook
// The provider retries delivery on any non-2xx response.
func (h *Controller) HandleWebhook(c echo.Context) error {
	sig := c.Request().Header.Get("Stripe-Signature")
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "unreadable body"})
	}

	if err := h.Svc.HandleWebhook(c.Request().Context(), sig, raw); err != nil {
		switch paymentsvc.Code(err) {
		case paymentsvc.ErrBadSignature, paymentsvc.ErrBadPayload:
			return c.JSON(http.StatusBadRequest, echo.Map{"message": "webhook rejected"})
		case paymentsvc.ErrUnknownSession:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "unknown session"})
		default:
			h.Log.Error("webhook processing failed", "err", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "ok"})
}

// GET /v1/payments
func (h *Controller) List(c echo.Context) error {
	uid, err := jwtx.UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
	}
	rows, err := h.Svc.List(c.Request().Context(), uid, jwtx.IsStaff(c))
	if err != nil {
		h.Log.Error("payment list", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"data": rows})
}

// GET /v1/payments/:id
func (h *Controller) Detail(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	uid, err := jwtx.UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
	}

	p, err := h.Svc.Get(c.Request().Context(), uid, jwtx.IsStaff(c), id)
	if err != nil {
		switch paymentsvc.Code(err) {
		case paymentsvc.ErrNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "payment not found"})
		case paymentsvc.ErrForbidden:
			return c.JSON(http.StatusForbidden, echo.Map{"message": "forbidden"})
		default:
			h.Log.Error("payment detail", "err", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
		}
	}
	return c.JSON(http.StatusOK, p)
}

// POST /v1/payments/renew/:borrowing_id
func (h *Controller) RenewSession(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("borrowing_id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid borrowing id"})
	}
	uid, err := jwtx.UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
	}

	p, err := h.Svc.RenewSession(c.Request().Context(), uid, jwtx.IsStaff(c), id)
	if err != nil {
		h.Log.Error("payment renew", "err", err)
		switch paymentsvc.Code(err) {
		case paymentsvc.ErrNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "borrowing not found"})
		case paymentsvc.ErrForbidden:
			return c.JSON(http.StatusForbidden, echo.Map{"message": "forbidden"})
		case paymentsvc.ErrNotRenewable:
			return c.JSON(http.StatusConflict, echo.Map{"message": "borrowing is not awaiting payment"})
		case paymentsvc.ErrActivePayment:
			return c.JSON(http.StatusConflict, echo.Map{"message": "an active rent payment already exists"})
		case paymentsvc.ErrDuplicateSession:
			return c.JSON(http.StatusConflict, echo.Map{"message": "session already recorded"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
		}
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"payment":      p,
		"checkout_url": p.SessionURL,
	})
}
