// Package practice is the HTTP client for the practice session API.
//
// Every call carries a bearer token from a TokenSource. A 401 triggers one
// token refresh and a single retry; any other failure is mapped onto the
// services error markers by status class so callers can pick a recovery
// without inspecting HTTP details. Successful bodies are validated before
// they are returned.
package practice
