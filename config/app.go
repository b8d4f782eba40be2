package config

import "github.com/shopspring/decimal"

type App struct {
	Port                string
	DatabaseURL         string
	JWTSecret           string
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string
	TelegramBotToken    string
	TelegramChatID      string
	Env                 string

	// Lending policy knobs.
	FineMultiplier   decimal.Decimal
	BlockOnUnpaid    bool
	PaymentHoldHours int
}
