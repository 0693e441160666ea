// Package qa answers natural language questions about an indexed
// repository. The orchestrator retrieves artifact context for the
// question and feeds it to a completion provider (Ollama or an
// OpenAI-compatible endpoint) with a fixed prompt pair.
package qa
