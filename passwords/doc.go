// Package passwords hashes and verifies local account passwords.
package passwords
