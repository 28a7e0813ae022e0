package models

import "strings"

// KeyPrefix namespaces rate-limit keys in shared stores.
const KeyPrefix = "rl"

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// to prevent key collision attacks where user-controlled identifiers
// containing ':' could manipulate adjacent rate limit buckets.
//
// Example: a caller-supplied id "user:admin" becomes "user_admin" instead of
// being interpreted as a separate key segment. IPv6 addresses are the common
// honest case.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// UserIdentity builds the rate-limit identity for an authenticated caller.
func UserIdentity(userID string) string {
	return "user:" + SanitizeKeySegment(userID)
}

// IPIdentity builds the rate-limit identity for an anonymous or webhook
// caller.
func IPIdentity(ip string) string {
	return "ip:" + SanitizeKeySegment(ip)
}

// BuildKey composes the store key for an identity and route. The identity is
// already sanitized by its constructor; the route ("POST /api/leads/{id}")
// contains no ':'.
func BuildKey(identity, route string) string {
	return KeyPrefix + ":" + identity + ":" + route
}
