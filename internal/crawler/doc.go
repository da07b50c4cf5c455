// Package crawler holds the domain types shared by the crawl: topic cursors,
// candidates, posts and their embeddings, the collaborator interfaces the
// orchestrator and workers are wired with, the error taxonomy that drives
// recovery (rate limited, transient, fatal topic, skip), and the randomized
// backoff used between reseeds.
package crawler
