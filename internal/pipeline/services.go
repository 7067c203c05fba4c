package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/coordmap"
	"github.com/dgallion1/docaudit/internal/cost"
	"github.com/dgallion1/docaudit/internal/extract"
	"github.com/dgallion1/docaudit/internal/highlight"
	"github.com/dgallion1/docaudit/internal/latechunk"
	"github.com/dgallion1/docaudit/internal/metrics"
	"github.com/dgallion1/docaudit/internal/sidecar"
)

// BuildOptions select how services are assembled.
type BuildOptions struct {
	// Offline replaces the remote embedder with HashEmbedder, counts tokens
	// by estimate and leaves the model unset, so runs produce pattern
	// findings only.
	Offline bool
	// NoSidecar skips the side-car client; the server strategy and token
	// fill are then unavailable.
	NoSidecar bool
	Metrics   *metrics.Metrics
}

// Built is an assembled service set plus the handles main needs.
type Built struct {
	Services Services
	Stats    *extract.LLMStats
	Sidecar  *sidecar.Client
	close    []func()
}

// Close releases client resources.
func (b *Built) Close() {
	for _, fn := range b.close {
		fn()
	}
}

// BuildServices assembles the shared collaborators from service config.
func BuildServices(cfg config.Config, opts BuildOptions, log *slog.Logger) (*Built, error) {
	b := &Built{Stats: extract.NewLLMStats(time.Hour)}
	svc := &b.Services
	svc.Metrics = opts.Metrics

	if opts.Offline {
		svc.Embedder = latechunk.HashEmbedder{Dim: 256}
	} else {
		client := extract.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, b.Stats)
		svc.Model = client
		b.close = append(b.close, client.Close)

		emb, err := latechunk.NewOpenAIEmbedder(latechunk.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.EmbeddingModel,
		})
		if err != nil {
			log.Warn("embedder unavailable, continuing without late chunking", "error", err)
		} else {
			svc.Embedder = emb
		}
	}

	if opts.Offline {
		svc.Counter = cost.ApproxCounter{}
	} else if counter, err := cost.NewTiktokenCounter(cfg.AnalysisModel); err != nil {
		log.Warn("tiktoken unavailable, using character estimate", "error", err)
		svc.Counter = cost.ApproxCounter{}
	} else {
		svc.Counter = counter
	}

	mapper, err := coordmap.New(coordmap.DefaultOptions(), log)
	if err != nil {
		return nil, fmt.Errorf("coordinate mapper: %w", err)
	}
	svc.Mapper = mapper

	strategies := []highlight.Strategy{&highlight.OverlayStrategy{}, &highlight.AnnotationStrategy{}}
	if !opts.NoSidecar && cfg.SidecarURL != "" {
		b.Sidecar = sidecar.NewClient(cfg.SidecarURL, 2*time.Minute)
		svc.Tokens = b.Sidecar
		strategies = append(strategies, &highlight.ServerStrategy{Client: b.Sidecar})
	}
	svc.Highlight = highlight.NewOrchestrator(highlight.DefaultOptions(), log, strategies...)
	return b, nil
}
