package notify

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/mrz1836/postmark"

	"github.com/dietbot/entitlement/pkg/queue"
)

// EmailSender is the part of the Postmark client used here; *postmark.Client
// satisfies it.
type EmailSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkOperator e-mails dead-letter alerts to the operator address.
type PostmarkOperator struct {
	client EmailSender
	config Config
}

// NewPostmarkOperator validates cfg and builds a Postmark-backed operator.
func NewPostmarkOperator(cfg Config) (*PostmarkOperator, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	return NewPostmarkOperatorWithClient(postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken), cfg)
}

// NewPostmarkOperatorWithClient uses the given sender instead of a new Postmark client.
func NewPostmarkOperatorWithClient(client EmailSender, cfg Config) (*PostmarkOperator, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: client is nil", ErrInvalidConfig)
	}
	if _, err := mail.ParseAddress(cfg.SenderEmail); err != nil {
		return nil, fmt.Errorf("%w: sender email: %v", ErrInvalidConfig, err)
	}
	if _, err := mail.ParseAddress(cfg.OperatorEmail); err != nil {
		return nil, fmt.Errorf("%w: operator email: %v", ErrInvalidConfig, err)
	}
	return &PostmarkOperator{client: client, config: cfg}, nil
}

func (o *PostmarkOperator) TaskDeadLettered(ctx context.Context, task queue.Task) error {
	resp, err := o.client.SendEmail(ctx, postmark.Email{
		From:     o.config.SenderEmail,
		To:       o.config.OperatorEmail,
		Subject:  subject(task),
		Tag:      o.config.Tag,
		TextBody: body(task),
	})
	if err != nil {
		return errors.Join(ErrFailedToSend, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrFailedToSend, fmt.Errorf("postmark error %d: %s", resp.ErrorCode, resp.Message))
	}
	return nil
}
