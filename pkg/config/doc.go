// Package config loads the integration hub server configuration from YAML.
package config
