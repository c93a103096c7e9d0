// Package config loads the consensusd JSON configuration, fills in defaults for
// every section and pulls secrets from the process environment (optionally
// seeded from a .env file).
package config
