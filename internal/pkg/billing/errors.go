package billing

import "errors"

// Error taxonomy for billing-event processing. Handlers classify errors
// locally; only ErrProcessorUnavailable (and store failures) propagate as
// retryable to the webhook responder.
var (
	// ErrInvalidSignature means the webhook payload failed its authenticity
	// check. Fatal for that request.
	ErrInvalidSignature = errors.New("billing: invalid webhook signature")

	// ErrMissingCustomerEmail means a checkout/subscription event could not
	// be resolved to an email address. Recorded for manual follow-up;
	// retrying will not produce a different outcome.
	ErrMissingCustomerEmail = errors.New("billing: customer email could not be resolved")

	// ErrProcessorUnavailable wraps transient network/processor failures so
	// the upstream notification source redelivers.
	ErrProcessorUnavailable = errors.New("billing: payment processor unavailable")

	// ErrCustomerNotFound is returned by Processor.RetrieveCustomer when the
	// customer reference is unknown at the processor.
	ErrCustomerNotFound = errors.New("billing: customer not found")

	// ErrCustomerRefConflict means a billing customer reference is already
	// linked to a different account. The link is set once and never
	// reassigned.
	ErrCustomerRefConflict = errors.New("billing: customer reference linked to another account")
)
