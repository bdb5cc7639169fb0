package httpapi

// Config holds API settings. An empty OperatorToken rejects every /v1 call.
type Config struct {
	OperatorToken   string `env:"OPERATOR_TOKEN"`
	PriceLocale     string `env:"HTTP_PRICE_LOCALE" envDefault:"pt-BR"`
	MaxWebhookBytes int64  `env:"HTTP_MAX_WEBHOOK_BYTES" envDefault:"1048576"`
}
