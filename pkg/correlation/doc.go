// Package correlation mints correlation identifiers and threads them through
// contexts so every event and audit record of one workflow can be grouped.
package correlation
