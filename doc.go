// Command ripper downloads every item of an online album.
//
// Architecture overview:
//   - Rip engine: internal/rip drives one rip at a time. A Strategy paginates the album and yields item
//     locators; each item becomes a job on the download pool, and a ledger tracks every locator as pending,
//     completed or errored until nothing is pending.
//   - Strategy: internal/strategy/selector reads albums with CSS selectors over goquery. Pages come from the
//     Colly fetcher and are promoted to the Chromedp fetcher when the heuristic detector flags a JS shell.
//   - Pool: a bounded in-memory queue sized by pool.queue_depth feeds pool.workers dispatcher goroutines.
//     Downloads go through the per-host rate limiter and the exponential retry policy.
//   - Progress: rip status events are adapted into progress events and batched by the hub to sinks for zap
//     logs, Prometheus, the Postgres progress store, Pub/Sub rip summaries, and the blob mirror (local or GCS).
//   - Status API: internal/api serves /healthz, /readyz, /metrics, the live rip at /v1/rip and the rip history
//     at /v1/rips when a database is configured.
//   - Configuration & plumbing: Viper populates config from file, RIPPER_* env vars and flags; zap provides
//     structured logging; cobra provides the rip and serve commands.
//
// Operational notes:
//   - Concurrency model: one shared pool per process; queued albums (--follow-albums) are ripped one after
//     another over it. Headless fetches have their own semaphore inside the Chromedp fetcher.
//   - Shutdown: SIGINT/SIGTERM cancel the rip. Workers still report what is already queued, then the hub drains
//     to its sinks before the backends close.
//
// Quick checklist:
//   - Run locally: go run . rip https://example.com/album --output ./rips
//   - Record history: set RIPPER_DATABASE_DSN, then `ripper serve` exposes /v1/rips.
//   - Mirror to GCS: storage.backend=gcs with storage.gcs_bucket; announce on Pub/Sub with publisher.enabled.
package main
