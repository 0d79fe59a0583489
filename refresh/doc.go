// Package refresh manages single-use opaque refresh tokens.
//
// Each token is random bytes split into a record ID and a secret; only a
// hash of the secret is stored. Rotation is atomic in Redis: under any
// number of concurrent rotations of the same token exactly one succeeds,
// and every later presentation is reported as reuse.
package refresh
