// Package notify delivers out-of-band messages: dead-lettered task alerts for
// operators and chat messages for users.
//
// PostmarkOperator e-mails the operator address through Postmark. LogOperator
// and LogMessenger write to the structured logger instead and are used when no
// transport is configured.
//
//	op, err := notify.NewPostmarkOperator(cfg)
//	sweeper := queue.NewSweeper(storage, queue.WithNotifier(op))
package notify
