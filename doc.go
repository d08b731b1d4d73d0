// Package oneauth wires the user data-access layer: database connection,
// user repository, reference-data services, telemetry and event dispatch.
package oneauth
