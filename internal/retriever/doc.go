// Package retriever finds the artifacts most relevant to a natural
// language question and renders them into a context block for the
// completion model.
package retriever
