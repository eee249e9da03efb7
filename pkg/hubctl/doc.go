// Package hubctl holds the hubctl command line client for the integration
// hub API: cmd wires the cobra commands, client speaks HTTP to the server and
// output renders results as tables, JSON or YAML.
package hubctl
