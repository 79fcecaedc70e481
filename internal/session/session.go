// Package session resolves exchange session IDs to the authenticated user
// that owns them. Sessions are created by the authentication layer in front
// of the exchange service and stored in Redis.
package session
