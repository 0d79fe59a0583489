// Package session tracks logical login sessions with sliding expiry.
//
// Sessions live in Redis behind a write-through in-memory cache. Every
// successful validation slides the expiry window forward; termination is
// permanent and indistinguishable from the session never having existed.
package session
