// Package utils provides small shared helpers, currently bounded retry with
// exponential backoff.
package utils
