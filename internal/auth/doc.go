// Package auth provides dashboard authentication for the silo backend.
//
// Two roles exist. Operators read silos and readings and run gateway
// commands; admins additionally create and delete silos and clear the relay
// store. Passwords are stored as Argon2id PHC strings and sessions are
// short-lived HS256 access tokens validated by signature only.
package auth
