// Package consent implements the learning consent-banner dismissal engine.
//
// The engine is organized around a feedback loop:
//
//   - PatternStore persists learned (domain, selector, action) patterns in
//     SQLite with empirical success/failure counters and a derived
//     effectiveness score.
//   - DomainCache holds the patterns for fast ranked lookup per domain; it is
//     hydrated from the store at startup and mirrored on every outcome.
//   - Detector scans a live page for banner evidence, trying learned
//     selectors before the fixed heuristics.
//   - Cascade executes the three-tier dismissal waterfall: learned patterns,
//     static fallback selectors, then a keyword text scan over clickable
//     elements.
//   - Handler ties the pieces together and routes every attempt outcome back
//     into the store and cache, so each run makes the next one better.
//
// Handler.HandleConsent is the single entry point; everything else is
// exported for composition and observability.
package consent
