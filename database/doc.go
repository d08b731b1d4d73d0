// Package database provides connection management, table bootstrap, foreign
// key handling, configuration types, logging, health checks, and SQL error
// classification built on top of Bun.
package database
