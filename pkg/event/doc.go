// Package event defines the domain event envelope exchanged between modules
// and the typed payloads bound to each event type.
package event
