// Package identity owns Browser Jam user accounts: registration,
// credential verification, and the users table in Postgres, SQLite or
// memory.
//
// Signed access tokens live in cmd/security/token; this package only
// answers "who is this email/password" and "who is this user id".
package identity
