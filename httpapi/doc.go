// Package httpapi serves the authentication endpoints: login, PIN
// login, refresh, logout, session management, and password change.
// Responses use a uniform JSON envelope and tokens are mirrored into
// cookies for browser clients.
package httpapi
