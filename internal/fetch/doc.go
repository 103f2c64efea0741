// Package fetch is the download pipeline: a bounded worker pool fed by
// the hierarchy walker, writing attachment bytes into a gocloud blob
// bucket and recording every outcome in the resume store.
//
// # Worker Pool
//
// Workers receive attachment jobs from a channel, fetch the bytes
// through the rate-limited API client, and stream them to the
// destination bucket. Transient failures are retried with exponential
// backoff; permanent ones land in the failure log and the run moves on.
//
// # Graceful Shutdown
//
// When the context is cancelled the dispatcher stops feeding work and
// in-flight downloads run to their natural completion. Bucket writers
// commit atomically on Close, so an interrupted run never leaves a
// partial file at a final destination path.
package fetch
