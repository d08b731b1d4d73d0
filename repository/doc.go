// Package repository provides a generic Bun repository and the user
// repository: lookups, registration, partial updates, and the search filter
// builder.
package repository
