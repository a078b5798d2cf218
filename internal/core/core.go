// Package core wires C1-C10 together behind a single Service, constructed
// from one CoreContext value rather than package-level singletons (spec
// §9: "avoid hidden singletons by passing them via a CoreContext value").
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nl2sql/sqlcore/internal/graph"
	"github.com/nl2sql/sqlcore/internal/llm"
	"github.com/nl2sql/sqlcore/internal/ontology"
	"github.com/nl2sql/sqlcore/internal/pool"
	"github.com/nl2sql/sqlcore/internal/prompt"
	"github.com/nl2sql/sqlcore/internal/rag"
	"github.com/nl2sql/sqlcore/internal/session"
	"github.com/nl2sql/sqlcore/internal/snapstore"
	"github.com/nl2sql/sqlcore/internal/store"
	"github.com/nl2sql/sqlcore/pkg/config"
	"github.com/nl2sql/sqlcore/utils"
)

// connState is the per-connection-identity semantic state: the induced
// Ontology and its GraphIndex projection, guarded by one connection-scoped
// mutex that the writer and the readers all take, so access is serialized.
type connState struct {
	mu       sync.Mutex
	ontology *ontology.Ontology
	graph    *graph.Index
}

// CoreContext bundles every process-wide resource C1-C10 need. It is
// constructed once at startup and passed explicitly rather than reached
// for via package globals.
type CoreContext struct {
	Config    *config.Config
	Pool      *pool.Pool
	Sessions  *session.Manager
	Snapshots *snapstore.Store
	Persist   *store.Store
	LLM       llm.Provider
	Composer  *prompt.Composer
	RAG       *rag.Store
	Ontology  *ontology.Builder
	log       *utils.Logger

	mu     sync.Mutex
	states map[string]*connState
}

// NewCoreContext constructs every shared resource from cfg: the connection
// pool, session manager, snapshot cache, durable store, LLM provider,
// prompt composer, and (if enabled) the RAG example store, then replays
// any persisted RAG examples into the fresh in-memory vector index.
func NewCoreContext(ctx context.Context, cfg *config.Config) (*CoreContext, error) {
	if err := utils.InitLogger(cfg.LoggingConfig()); err != nil {
		return nil, fmt.Errorf("core: init logger: %w", err)
	}
	log := utils.GetLogger()

	persist, err := store.Open(ctx, cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("core: open durable store: %w", err)
	}

	provider, err := llm.New(cfg.LLMConfig())
	if err != nil {
		persist.Close()
		return nil, fmt.Errorf("core: construct llm provider: %w", err)
	}
	log.Info("core: llm provider configured",
		utils.String("provider", cfg.LLMProvider),
		utils.String("api_key", utils.MaskAPIKey(cfg.LLMAPIKey)))

	var ragStore *rag.Store
	if cfg.RAGEnabled {
		ragStore, err = rag.New(rag.HashEmbed, float32(cfg.RAGSimilarityThreshold))
		if err != nil {
			persist.Close()
			return nil, fmt.Errorf("core: construct rag store: %w", err)
		}
		persisted, err := persist.LoadRAGEntries(ctx)
		if err != nil {
			persist.Close()
			return nil, fmt.Errorf("core: replay rag entries: %w", err)
		}
		for _, e := range persisted {
			if ierr := ragStore.Import(ctx, e); ierr != nil {
				log.Warn("core: failed to replay rag entry", utils.Error(ierr))
			}
		}
		log.Info("core: replayed rag entries", utils.Int("count", len(persisted)))
	}

	builder := ontology.New(provider)
	builder.BatchSize = cfg.OntologyBatchSize

	cc := &CoreContext{
		Config: cfg,
		Pool: pool.New(cfg.PoolMinConns, cfg.PoolMaxConns,
			time.Duration(cfg.PoolAcquireTimeout)*time.Second,
			time.Duration(cfg.SessionIdleTimeout)*time.Second),
		Sessions:  session.NewManager(time.Duration(cfg.SessionIdleTimeout) * time.Second),
		Snapshots: snapstore.New(time.Duration(cfg.SnapshotTTL) * time.Second),
		Persist:   persist,
		LLM:       provider,
		Composer:  prompt.New(),
		RAG:       ragStore,
		Ontology:  builder,
		log:       log,
		states:    make(map[string]*connState),
	}
	return cc, nil
}

// Close tears down every owned resource: pool connections, session
// eviction goroutine, and the durable store.
func (cc *CoreContext) Close() error {
	cc.Sessions.Close()
	if err := cc.Pool.Close(); err != nil {
		return err
	}
	return cc.Persist.Close()
}

// stateFor returns (creating if absent) the connState for connectionKey.
func (cc *CoreContext) stateFor(connectionKey string) *connState {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	s, ok := cc.states[connectionKey]
	if !ok {
		s = &connState{}
		cc.states[connectionKey] = s
	}
	return s
}
