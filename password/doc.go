// Package password hashes operator passwords and PINs with argon2id.
package password
