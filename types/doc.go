// Package types holds the query filter and pagination carriers shared by the
// repositories.
package types
