// Package auth keeps the practice API bearer token current.
//
// Manager hands out the cached access token and, when the server rejects it,
// exchanges the refresh token exactly once no matter how many callers observed
// the rejection concurrently. State persists in a JSON file with owner-only
// permissions.
package auth
