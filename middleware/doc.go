// Package middleware provides net/http wrappers around the engine: a
// Guard that authenticates bearer or cookie tokens, and a Csrf check
// for state-changing requests.
package middleware
