// Package config handles configuration loading for tutor-gateway.
//
// # Configuration File
//
// Locations, in order:
//
//  1. The --config flag
//  2. Path from the TUTOR_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/tutor-gateway/config.yaml (~/.config when unset)
//
// Files ending in .toml are decoded as TOML; anything else is YAML. A .env
// file next to the working directory is loaded into the environment first.
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${TUTOR_JWT_SECRET}"
//
// # Agents
//
// Each key under agents must name a capability (content, assessment,
// analytics, adaptive, voice, engagement). Unknown names fail validation.
//
//	agents:
//	  engagement:
//	    address: "127.0.0.1:50066"
//	    timeout: "2s"
//	    fallback: "Keep going!"
//
// # Duration Parsing
//
// Durations use time.ParseDuration syntax ("500ms", "30s", "5m").
package config
