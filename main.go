// Package main library lending API.
//
// @title           Library Lending API
// @version         1.0
// @description     Book inventory, borrowings and payment settlement.
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description  Use:  Bearer <JWT>
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/Danylo-D87/library-service/app/echoServer"
	authctrl "github.com/Danylo-D87/library-service/app/echoServer/controller/auth"
	bookctrl "github.com/Danylo-D87/library-service/app/echoServer/controller/book"
	borrowingctrl "github.com/Danylo-D87/library-service/app/echoServer/controller/borrowing"
	paymentctrl "github.com/Danylo-D87/library-service/app/echoServer/controller/payment"
	"github.com/Danylo-D87/library-service/app/echoServer/validation"
	"github.com/Danylo-D87/library-service/config"
	"github.com/Danylo-D87/library-service/notify"
	bookrepo "github.com/Danylo-D87/library-service/repository/book"
	borrowingrepo "github.com/Danylo-D87/library-service/repository/borrowing"
	checkoutrepo "github.com/Danylo-D87/library-service/repository/checkout"
	paymentrepo "github.com/Danylo-D87/library-service/repository/payment"
	userrepo "github.com/Danylo-D87/library-service/repository/user"
	authsvc "github.com/Danylo-D87/library-service/service/auth"
	booksvc "github.com/Danylo-D87/library-service/service/book"
	borrowingsvc "github.com/Danylo-D87/library-service/service/borrowing"
	"github.com/Danylo-D87/library-service/service/fee"
	paymentsvc "github.com/Danylo-D87/library-service/service/payment"
	"github.com/Danylo-D87/library-service/util/database"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	// logger
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// repos
	br := bookrepo.New(db)
	rr := borrowingrepo.New(db, br)
	pr := paymentrepo.New(db, br)
	ur := userrepo.New(db)
	xr := checkoutrepo.NewHTTP(checkoutrepo.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		SuccessURL:    cfg.StripeSuccessURL,
		CancelURL:     cfg.StripeCancelURL,
	})

	// services
	fees := fee.NewCalculator(cfg.FineMultiplier)
	notifier := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
	as := authsvc.New(ur, cfg.JWTSecret)
	bs := booksvc.New(br)
	rs := borrowingsvc.New(rr, br, pr, xr, fees, borrowingsvc.Policy{
		BlockOnUnpaid: cfg.BlockOnUnpaid,
	}, log)
	ps := paymentsvc.New(pr, rr, br, ur, xr, fees, notifier, log)

	// controllers
	v := validator.New()
	authC := &authctrl.Controller{Svc: as, V: v, Log: log}
	bookC := &bookctrl.Controller{Svc: bs, V: v, Log: log}
	borrowingC := &borrowingctrl.Controller{Svc: rs, V: v, Log: log}
	paymentC := &paymentctrl.Controller{Svc: ps, Log: log}

	// stale-hold sweeper: cancels borrowings whose checkout session
	// died without any webhook ever arriving.
	cleaner := borrowingsvc.NewCleaner(rr, time.Duration(cfg.PaymentHoldHours)*time.Hour)
	go func() {
		t := time.NewTicker(time.Hour)
		defer t.Stop()
		for range t.C {
			n, err := cleaner.ReleaseExpired(ctx)
			if err != nil {
				log.Error("stale borrowing cleanup failed", "err", err)
				continue
			}
			if n > 0 {
				log.Info("stale borrowings canceled", "count", n)
			}
		}
	}()

	// echo
	e := echo.New()
	echoServer.RegisterMiddlewares(e)
	e.Validator = validation.New()

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]any{"status": "ok"})
	})

	e.GET("/swagger/*", echoSwagger.WrapHandler)

	echoServer.Register(e, echoServer.C{
		Auth:      authC,
		Book:      bookC,
		Borrowing: borrowingC,
		Payment:   paymentC,
		JWTSecret: cfg.JWTSecret,
	})

	log.Info("starting server", "port", cfg.Port, "env", cfg.Env)
	e.Logger.Fatal(e.Start(":" + cfg.Port))
}
