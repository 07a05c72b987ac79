// Package digest sends periodic trend digests to subscribers.
//
// The Scheduler ticks on a fixed interval, finds subscriptions whose cadence
// period has elapsed and enqueues one digest task per subscriber and period.
// The task Handler gathers one analysis report per subscribed category
// through a ReportSource, composes a single batched message, delivers it and
// then records per-category receipts and the new last-sent time in one store
// transaction. A failed delivery records nothing, so the retry delivers the
// same categories again; receipted categories are never sent twice.
package digest
