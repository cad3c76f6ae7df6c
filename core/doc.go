// Package core assembles the resilience stack behind a single entry
// point. A Core owns one fault classifier, one rate-limiter registry,
// one circuit-breaker registry and one offline manager for the process
// lifetime, wired together from a Config with explicit dependency
// injection.
package core
