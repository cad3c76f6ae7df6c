// Package offline provides offline-aware execution: a connectivity
// tracker, a persistent priority queue for requests made while
// disconnected, and a persistent response cache with TTL and
// score-based eviction. The Manager ties them to the circuit breaker
// registry, rate limiters and fault classifier.
package offline
