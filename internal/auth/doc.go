// Package auth issues and validates the bearer tokens that guard the
// status API.
//
// Tokens are HS256 JWTs signed with a shared secret. Validation needs no
// storage: signature, expiry and subject are all that is checked.
package auth
