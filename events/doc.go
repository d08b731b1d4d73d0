// Package events raises user lifecycle events (created, updated) and
// delivers them asynchronously through a pluggable publisher.
package events
