// Package system holds process-wide logging helpers shared by the server,
// the HTTP API and tests.
package system
