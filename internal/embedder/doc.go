// Package embedder generates vector embeddings for artifact code and
// questions.
//
// Three providers implement the Embedder interface:
//
//   - local: deterministic hash-derived vectors (384 dimensions), no
//     external dependency; the default for development and tests
//   - ollama: a local Ollama server's embeddings endpoint
//   - openai: the OpenAI embeddings API
//
// Construct one embedder per process and pass it by handle into
// indexing and retrieval:
//
//	emb, err := embedder.New(embedder.Config{Provider: "ollama"})
//	defer emb.Close()
//
//	vec, err := emb.Embed(ctx, "def connect(): ...")
//
// Remote providers retry transient failures (network errors, 429, 5xx)
// with exponential backoff; invalid credentials and malformed requests
// fail immediately. Vectors are cached in-memory by content hash with
// LRU eviction, so re-indexing unchanged artifacts does not re-call
// the provider.
package embedder
