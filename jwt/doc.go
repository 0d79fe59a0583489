// Package jwt signs and verifies the short-lived access tokens issued by
// the engine. Tokens are stateless; explicit revocation is layered on top
// by the engine's blacklist and is checked before parsing.
package jwt
