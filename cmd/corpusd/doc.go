// Package main hosts the corpusd entrypoint.
//
// Architecture overview:
//   - Source adapters: internal/sources holds one adapter per provider (PubMed, Europe PMC, DOAJ, CrossRef,
//     bioRxiv/medRxiv, arXiv, conference proceedings listings, the IVIS member library). Each translates the sweep
//     window and keyword policy into its own query syntax and yields candidates through a lazy page cursor. Adapters
//     are resolved into a registry at startup; an unknown name in sources.enabled is a startup error.
//   - Resolver: internal/resolver collapses candidates that share a DOI (or source+native id) using the configured
//     trust precedence, then expands each winner's download URL list: source-native guesses, the optional Unpaywall
//     best-OA location, and the publisher DOI redirect last.
//   - Fetch pipeline: a fixed fetch worker pool walks each candidate's URLs with per-source rate limiting
//     (x/time/rate), jittered retry on transient failures, and a PDF gate (content type or %PDF sniff). Accepted
//     bytes are content-addressed by SHA-256 and stored at most once under raw/<source>/<hash>.pdf.
//   - Extraction: a second pool runs the strategy chain resolved at engine construction — GROBID when an endpoint is
//     configured, then sectioned and plain local PDF text. Every document gets a structured record, worst case a
//     minimal one marked method=none; structured writes are atomic and idempotent across re-sweeps.
//   - Persistence & fanout: blobs go to the configured store (memory/local/GCS). Source health and the document
//     catalog persist to Postgres when a DSN is set; a compact Pub/Sub event is published per structured document
//     when a topic is configured. Events are advisory and never fail the sweep.
//   - Configuration & plumbing: Viper populates config from env/files with the CORPUS prefix; zap provides structured
//     logging; Prometheus collectors back the /metrics handler on the read surface.
//
// Operational notes:
//   - Invocation model: an external workflow runner executes `corpusd crawl` per sweep; the process holds no
//     schedule. `corpusd serve` exposes the read-only surface (/healthz, /v1/sources, /v1/stats, /metrics) and
//     drains cleanly on SIGTERM.
//   - Failure domains: a failing provider degrades its own SourceHealth and the sweep continues; storage write
//     failures abort the sweep with a non-nil exit so the runner retries.
//   - Budgets: the sweep runs under pipeline.sweep_budget_hours; each source is additionally capped by
//     pipeline.max_per_source candidates per sweep.
//
// Quick checklist:
//   - Configure env vars: CORPUS_SOURCES_ENABLED, CORPUS_STORAGE_PROVIDER (+ bucket or dir), CORPUS_DB_DSN and
//     CORPUS_PUBSUB_* when persistence/eventing beyond memory is required, CORPUS_EXTRACT_GROBID_ENDPOINT for
//     full-structure extraction, and CORPUS_SOURCES_IVIS_* credentials when the member library is enabled.
//   - Run locally: go run ./cmd/corpusd crawl --config config.yaml (or rely solely on env overrides).
package main
