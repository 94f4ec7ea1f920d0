// Package dispatcher turns one inbound request into one response envelope.
//
// A request moves through RECEIVED, MODEL_INVOKED, then METRICS_EXTRACTED
// and REPORTED or METRICS_ABSENT, and ends in RESPONDED. Any error or panic
// before the response is built ends in FAILED with an error envelope; the
// dispatcher never returns an error to its caller.
//
// Usage:
//
//	d, _ := dispatcher.New(dispatcher.Config{
//		TenantID:     tenant.ID(),
//		SystemPrompt: tenant.SystemPrompt(),
//		Invoker:      runner,
//		Reporter:     reporter,
//		Logger:       logger,
//	})
//	resp := d.Handle(ctx, dispatcher.NewRequest(payload))
package dispatcher
