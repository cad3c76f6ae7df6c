// Package validation provides a fluent field validator and tag-based
// struct validation. Failures come back as typed application errors
// whose messages classify as validation faults.
package validation
