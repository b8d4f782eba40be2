package config

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
)

func Load() App {
	cfg := App{
		Port:                getenv("APP_PORT", "8080"),
		DatabaseURL:         must("DATABASE_URL"),
		JWTSecret:           getenv("JWT_SECRET", "local_dev_secret"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeSuccessURL:    getenv("STRIPE_SUCCESS_URL", "http://localhost:8080/payments/success"),
		StripeCancelURL:     getenv("STRIPE_CANCEL_URL", "http://localhost:8080/payments/cancel"),
		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:      os.Getenv("TELEGRAM_CHAT_ID"),
		Env:                 getenv("APP_ENV", "dev"),
		FineMultiplier:      getdecimal("FINE_MULTIPLIER", "1"),
		BlockOnUnpaid:       getbool("BLOCK_ON_UNPAID", true),
		PaymentHoldHours:    getint("PAYMENT_HOLD_HOURS", 24),
	}
	return cfg
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		slog.Error("required env missing", "key", k)
		panic("missing env " + k)
	}
	return v
}

func getbool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("bad bool env, using default", "key", k, "value", v)
		return def
	}
	return b
}

func getint(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("bad int env, using default", "key", k, "value", v)
		return def
	}
	return n
}

func getdecimal(k, def string) decimal.Decimal {
	v := os.Getenv(k)
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		slog.Warn("bad decimal env, using default", "key", k, "value", v)
		d, _ = decimal.NewFromString(def)
	}
	return d
}
