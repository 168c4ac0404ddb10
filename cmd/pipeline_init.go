package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-report/internal/config"
	"github.com/sells-group/deal-report/internal/cost"
	"github.com/sells-group/deal-report/internal/generation"
	"github.com/sells-group/deal-report/internal/model"
	"github.com/sells-group/deal-report/internal/pipeline"
	"github.com/sells-group/deal-report/internal/report"
	"github.com/sells-group/deal-report/internal/resilience"
	"github.com/sells-group/deal-report/internal/roles"
	"github.com/sells-group/deal-report/internal/scrape"
	"github.com/sells-group/deal-report/internal/store"
	anthropicpkg "github.com/sells-group/deal-report/pkg/anthropic"
	"github.com/sells-group/deal-report/pkg/firecrawl"
	"github.com/sells-group/deal-report/pkg/jina"
	"github.com/sells-group/deal-report/pkg/nhtsa"
	"github.com/sells-group/deal-report/pkg/perplexity"
)

// pipelineEnv holds the initialized pipeline and the resources it owns.
type pipelineEnv struct {
	Store    store.AuditStore // nil when auditing is disabled
	Sink     *store.Sink
	Breakers *resilience.Breakers
	Pipeline *pipeline.Pipeline
}

// Close waits for pending audit writes and releases the store.
func (pe *pipelineEnv) Close() {
	pe.Sink.Wait()
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// loadRoleBook reads the role rules from path, or the built-in rules when
// path is empty.
func loadRoleBook(path string) (*roles.Book, error) {
	if path == "" {
		book, err := roles.Load()
		if err != nil {
			return nil, eris.Wrap(err, "load role rules")
		}
		return book, nil
	}
	book, err := roles.LoadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "load role rules %s", path)
	}
	zap.L().Info("role rules loaded", zap.String("path", path))
	return book, nil
}

// newJinaClient builds the Jina client with a single attempt per call.
// Search retries come from the enrichment policy, which wraps every call.
func newJinaClient(jc config.JinaConfig, ec config.EnrichConfig) jina.Client {
	opts := []jina.Option{
		jina.WithBaseURL(jc.BaseURL),
		jina.WithRetry(1, time.Duration(ec.RetryBackoffMs)*time.Millisecond),
	}
	if jc.SearchBaseURL != "" {
		opts = append(opts, jina.WithSearchBaseURL(jc.SearchBaseURL))
	}
	return jina.NewClient(jc.Key, opts...)
}

// initPipeline sets up the audit store, all API clients and the Pipeline.
// Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	book, err := loadRoleBook(cfg.Roles.Path)
	if err != nil {
		return nil, err
	}

	env := &pipelineEnv{}
	if cfg.Audit.Enabled {
		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
		env.Store = st
	} else {
		zap.L().Warn("audit log disabled")
	}
	env.Sink = store.NewSink(env.Store, time.Duration(cfg.Audit.WriteTimeoutSecs)*time.Second)

	bc := resilience.BreakerFromConfig(cfg.Enrich.BreakerThreshold, cfg.Enrich.BreakerResetSecs)
	bc.OnChange = logBreakerChange
	env.Breakers = resilience.NewBreakers(bc)

	nhtsaClient := nhtsa.NewClient(
		nhtsa.WithVPICBaseURL(cfg.NHTSA.VPICBaseURL),
		nhtsa.WithRecallsBaseURL(cfg.NHTSA.RecallsBaseURL),
		nhtsa.WithRateLimit(cfg.NHTSA.RateLimitRPS),
	)
	jinaClient := newJinaClient(cfg.Jina, cfg.Enrich)

	var perplexityClient perplexity.Client
	if cfg.Perplexity.Key != "" {
		perplexityClient = perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
	} else {
		zap.L().Debug("DEALREPORT_PERPLEXITY_KEY not set, search fallback disabled")
	}

	// Listing scrape chain: plain http -> Jina Reader -> Firecrawl.
	matcher := scrape.NewMarketplaceMatcher(nil)
	scrapers := []scrape.Scraper{
		scrape.NewLocalScraper(),
		scrape.NewJinaAdapter(jinaClient, env.Breakers.Get("jina_read")),
	}
	if cfg.Firecrawl.Key != "" {
		scrapers = append(scrapers, scrape.NewFirecrawlAdapter(
			firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL)),
		))
	}
	chain := scrape.NewChain(matcher, scrapers...)

	policy := resilience.PolicyFromConfig(cfg.Enrich.SearchRetries, cfg.Enrich.RetryBackoffMs)
	search := pipeline.NewWebSearch(jinaClient, perplexityClient, policy, env.Breakers)
	branchTimeout := time.Duration(cfg.Enrich.BranchTimeoutSecs) * time.Second

	enricher := pipeline.NewEnricher(branchTimeout,
		pipeline.NewRecallSource(nhtsaClient, policy, env.Breakers.Get("nhtsa_recalls")),
		pipeline.NewRetailSearch(search),
		pipeline.NewAuctionSearch(search),
		pipeline.NewVINSearch(search),
		pipeline.NewListingSource(chain),
	)

	runner := generation.NewRunner(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic, cfg.Generation)

	env.Pipeline = pipeline.New(pipeline.Deps{
		Resolver:       pipeline.NewIdentityResolver(nhtsaClient, time.Duration(cfg.Enrich.DecodeTimeoutSecs)*time.Second),
		Enricher:       enricher,
		Assembler:      pipeline.NewAssembler(book, model.ReportMode(cfg.Generation.OutputMode)),
		Generator:      runner,
		Processor:      report.NewProcessor(book),
		Matcher:        matcher,
		Listings:       chain,
		ListingTimeout: branchTimeout,
		MaxPhotoBytes:  cfg.Generation.MaxPhotoBytes,
		Audit:          env.Sink,
		CostCalc:       cost.NewCalculator(cost.DefaultRates()),
		Model:          cfg.Anthropic.Model,
		Batch:          !cfg.Anthropic.NoBatch,
	})

	zap.L().Info("pipeline initialized",
		zap.String("output_mode", cfg.Generation.OutputMode),
		zap.String("model", cfg.Anthropic.Model),
		zap.Bool("batch", !cfg.Anthropic.NoBatch),
		zap.Bool("audit", cfg.Audit.Enabled),
	)
	return env, nil
}

func logBreakerChange(name string, from, to resilience.BreakerState) {
	zap.L().Warn("circuit breaker state change",
		zap.String("upstream", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

// initStore opens the audit store for the configured driver.
func initStore(ctx context.Context, sc config.StoreConfig) (store.AuditStore, error) {
	switch sc.Driver {
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = "deal-report.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}
