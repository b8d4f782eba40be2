package echoServer

import (
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/Danylo-D87/library-service/app/echoServer/controller/auth"
	"github.com/Danylo-D87/library-service/app/echoServer/controller/book"
	"github.com/Danylo-D87/library-service/app/echoServer/controller/borrowing"
	"github.com/Danylo-D87/library-service/app/echoServer/controller/payment"
)

type C struct {
	Auth      *auth.Controller
	Book      *book.Controller
	Borrowing *borrowing.Controller
	Payment   *payment.Controller
	JWTSecret string
}

func Register(e *echo.Echo, c C) {
	// Public
	pub := e.Group("/v1")
	pub.POST("/users/register", c.Auth.Register)
	pub.POST("/users/login", c.Auth.Login)

	// The webhook authenticates via its signed payload, not a JWT.
	pub.POST("/payments/webhook", c.Payment.HandleWebhook)

	// Book catalog reads are public.
	pub.GET("/books", c.Book.List)
	pub.GET("/books/:id", c.Book.Detail)

	// Auth
	authed := e.Group("/v1")
	authed.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(c.JWTSecret),
		NewClaimsFunc: func(c echo.Context) jwt.Claims { return jwt.MapClaims{} },
		TokenLookup:   "header:Authorization",
	}))
	authed.Use(claimsToContext)

	// Books (staff writes; the controller enforces the role)
	authed.POST("/books", c.Book.Create)
	authed.PUT("/books/:id", c.Book.Update)

	// Borrowings
	authed.POST("/borrowings", c.Borrowing.Create)
	authed.GET("/borrowings", c.Borrowing.List)
	authed.GET("/borrowings/:id", c.Borrowing.Detail)
	authed.POST("/borrowings/:id/return", c.Borrowing.Return)

	// Payments
	authed.GET("/payments", c.Payment.List)
	authed.GET("/payments/:id", c.Payment.Detail)
	authed.POST("/payments/renew/:borrowing_id", c.Payment.RenewSession)
}

// claimsToContext lifts sub and role out of the verified token so
// handlers read plain context values.
func claimsToContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		tok, ok := ctx.Get("user").(*jwt.Token)
		if !ok || tok == nil {
			return ctx.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
		}
		claims, ok := tok.Claims.(jwt.MapClaims)
		if !ok {
			return ctx.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
		}
		sub, ok := claims["sub"].(float64)
		if !ok {
			return ctx.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
		}
		ctx.Set("user_id", int64(sub))
		if role, ok := claims["role"].(string); ok {
			ctx.Set("role", role)
		}
		return next(ctx)
	}
}
