package enums

// OutboxEventType names the asynchronous side-effect jobs emitted through the outbox.
type OutboxEventType string

const (
	EventOrderConfirmationEmail    OutboxEventType = "order.confirmation_email"
	EventDonationConfirmationEmail OutboxEventType = "donation.confirmation_email"
	EventOrderStatusEmail          OutboxEventType = "order.status_email"
	EventPaymentCompleted          OutboxEventType = "payment.completed"
	EventPaymentFailed             OutboxEventType = "payment.failed"
)

// OutboxAggregateType names the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder    OutboxAggregateType = "order"
	AggregateDonation OutboxAggregateType = "donation"
)

// OutboxDLQErrorReason classifies why a publish was abandoned.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
)
