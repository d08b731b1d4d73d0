// Package models declares the Bun models of the user store: users, their
// local credentials, demographics and the reference tables they point at.
package models
