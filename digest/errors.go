package digest

import "errors"

var (
	// ErrSubscriptionStoreRequired is returned when a subscription store is not provided.
	ErrSubscriptionStoreRequired = errors.New("subscription store required")

	// ErrEnqueuerRequired is returned when a task enqueuer is not provided.
	ErrEnqueuerRequired = errors.New("enqueuer required")

	// ErrReportSourceRequired is returned when a report source is not provided.
	ErrReportSourceRequired = errors.New("report source required")

	// ErrDelivererRequired is returned when a deliverer is not provided.
	ErrDelivererRequired = errors.New("deliverer required")

	// ErrIncompleteDigest is returned when some categories of a digest could not be analyzed.
	ErrIncompleteDigest = errors.New("digest incomplete")
)
