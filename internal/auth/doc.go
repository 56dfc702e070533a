// Package auth provides user accounts and JWT-based API authentication.
//
// The model is deliberately small: users live in SQLite with Argon2id
// password hashes, a successful login issues a short-lived HS256 access
// token, and the API middleware validates tokens by signature alone (no
// database hit per request).
//
// On first run, when the users table is empty, a bootstrap admin account
// is created from configuration so the API is never locked out.
package auth
