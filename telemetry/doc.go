// Package telemetry provides the error capture capability injected into the
// repositories and the event dispatcher.
package telemetry
