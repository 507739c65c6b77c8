// Package fetch retrieves encoded chunks from a Transport, decodes them and
// caches the decoded buffers for one playback session.
//
// Each transport attempt is bounded by the latency estimator's current
// timeout and every outcome is fed back to it. Failed attempts are retried
// with exponential backoff; a chunk that exhausts its retries is reported as
// a *ChunkFetchError. Concurrent requests for the same chunk share one load.
//
// Fetch hands the decoded buffer to the caller and drops the cache's
// reference, so a buffer is owned by at most one party. Prefetch only warms
// the cache.
package fetch
