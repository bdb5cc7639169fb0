package notify

// Config holds operator alert settings. The Postmark tokens are optional:
// without a server token the daemon falls back to LogOperator.
type Config struct {
	PostmarkServerToken  string `env:"NOTIFY_POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"NOTIFY_POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"NOTIFY_SENDER_EMAIL"`
	OperatorEmail        string `env:"NOTIFY_OPERATOR_EMAIL"`
	Tag                  string `env:"NOTIFY_TAG" envDefault:"dead-letter"`
}

// Enabled reports whether Postmark delivery is configured.
func (c Config) Enabled() bool {
	return c.PostmarkServerToken != ""
}
