// Package mailqueue moves transactional mail off the request path through
// asynq.
//
// Mailer implements tierauth.Mailer by enqueueing one task per message.
// NewServeMux is the worker side: it decodes each task, renders the message
// and hands it to a Delivery. Payloads carry the raw verification token
// because the recipient needs it; they never carry passwords, TOTP secrets
// or backup codes.
package mailqueue
