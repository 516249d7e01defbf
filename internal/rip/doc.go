// Package rip implements the album rip engine: the crawl loop that walks a
// site's pages through a pluggable Strategy, the dispatch path that gates
// every item through deduplication before it reaches the worker pool, and the
// ledger that tracks each item until it is completed or errored.
//
// A Rip is a per-run context object. Stop and test flags, the working
// directory and the ledger all live on it, so several rips can run side by
// side without sharing state.
package rip
