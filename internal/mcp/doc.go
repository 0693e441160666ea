// Package mcp exposes the indexing and QA pipeline as MCP tools over
// stdio: index_repository, ask_question, search_artifacts and
// get_status. Logging goes to stderr; stdout carries only the protocol.
package mcp
