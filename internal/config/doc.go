// Package config loads service configuration from YAML with
// environment variable overrides. Defaults favor fully local operation:
// embedded vector index, local embedder, Ollama completions.
package config
