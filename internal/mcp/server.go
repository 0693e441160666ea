package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/repoqa/repoqa/internal/config"
	"github.com/repoqa/repoqa/internal/embedder"
	"github.com/repoqa/repoqa/internal/indexer"
	"github.com/repoqa/repoqa/internal/parser"
	"github.com/repoqa/repoqa/internal/qa"
	"github.com/repoqa/repoqa/internal/retriever"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/internal/vectorindex"
)

const (
	// ServerName is the MCP server name
	ServerName = "repoqa"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with the indexing and QA pipeline
type Server struct {
	mcp       *server.MCPServer
	cfg       *config.Config
	store     *store.Store
	index     vectorindex.Index
	embedder  embedder.Embedder
	completer qa.Completer
	indexer   *indexer.Indexer
	retriever *retriever.Retriever
	qa        *qa.Orchestrator
	logger    *slog.Logger
}

// NewServer builds the full pipeline from configuration and registers
// the MCP tools
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.New(cfg.MetadataPath())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metadata store: %w", err)
	}

	index, err := vectorindex.New(ctx, vectorindex.Config{
		Backend:    cfg.VectorStore.Backend,
		Path:       cfg.VectorPath(),
		Addr:       cfg.VectorStore.Addr,
		Collection: cfg.VectorStore.Collection,
		Dimension:  cfg.Embedding.Dimension,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	emb, err := embedder.New(embedder.Config{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
		CacheSize: cfg.Embedding.CacheSize,
	})
	if err != nil {
		_ = index.Close()
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	completer, err := qa.NewCompleter(qa.Config{
		Provider: cfg.Completion.Provider,
		Model:    cfg.Completion.Model,
		BaseURL:  cfg.Completion.BaseURL,
		APIKey:   cfg.Completion.APIKey,
	})
	if err != nil {
		_ = emb.Close()
		_ = index.Close()
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize completer: %w", err)
	}

	registry := parser.NewRegistry()
	idx := indexer.New(registry, emb, index, st, logger)
	ret := retriever.New(emb, index, st, logger)

	s := &Server{
		mcp:       server.NewMCPServer(ServerName, ServerVersion),
		cfg:       cfg,
		store:     st,
		index:     index,
		embedder:  emb,
		completer: completer,
		indexer:   idx,
		retriever: ret,
		qa:        qa.New(ret, completer, logger),
		logger:    logger,
	}
	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer s.close()
	return server.ServeStdio(s.mcp)
}

func (s *Server) close() {
	_ = s.completer.Close()
	_ = s.embedder.Close()
	_ = s.index.Close()
	_ = s.store.Close()
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexRepositoryTool(), s.handleIndexRepository)
	s.mcp.AddTool(askQuestionTool(), s.handleAskQuestion)
	s.mcp.AddTool(searchArtifactsTool(), s.handleSearchArtifacts)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
