// Package validation holds the input rules applied before user records are
// persisted.
package validation
