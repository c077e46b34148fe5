package app

import (
	"fmt"

	"flat_appraisal/internal/config"
	"flat_appraisal/internal/lib/metrics"
	"flat_appraisal/internal/lib/suggest"
	"flat_appraisal/internal/repository/deal_repository"
	"flat_appraisal/internal/repository/grid_repository"
	"flat_appraisal/internal/repository/listing_repository"
	"flat_appraisal/internal/repository/region_repository"
	"flat_appraisal/internal/repository/valuation_repository"
	"flat_appraisal/internal/scheduler"
	"flat_appraisal/internal/services/address"
	"flat_appraisal/internal/services/combined"
	"flat_appraisal/internal/services/deals"
	"flat_appraisal/internal/services/district"
	"flat_appraisal/internal/services/duplicates"
	"flat_appraisal/internal/services/grid"
	"flat_appraisal/internal/services/hybrid"
	"flat_appraisal/internal/services/invest"
	"flat_appraisal/internal/services/knn"
	"flat_appraisal/internal/services/valuation"

	"github.com/jackc/pgx/v5/pgxpool"

	"log/slog"
)

// App — собранное приложение: сервисы оценки и планировщик фоновых задач.
type App struct {
	Valuation  *valuation.Service
	Duplicates *duplicates.Detector
	Grid       *grid.Service
	Invest     *invest.Calculator
	Scheduler  *scheduler.Scheduler
	Metrics    *metrics.Metrics
}

func New(log *slog.Logger, pool *pgxpool.Pool, cfg *config.Config) (*App, error) {
	const op = "app.New"

	listingRepo := listing_repository.NewListingRepository(pool, log)
	dealRepo := deal_repository.NewDealRepository(pool, log)
	regionRepo := region_repository.NewRegionRepository(pool, log)
	gridRepo := grid_repository.NewGridRepository(pool, log)
	valuationRepo := valuation_repository.NewValuationRepository(pool, log)

	suggestClient := suggest.NewClient(cfg.Suggest, log)
	m := metrics.Get(log)

	log.Info("external services initialized",
		slog.Bool("suggest_enabled", suggestClient.IsEnabled()),
	)

	normalizer := address.NewNormalizer(log, suggestClient)
	districtResolver := district.NewResolver(log, regionRepo, cfg.Regions)

	knnSearcher := knn.NewSearcher(log, listingRepo)
	dealSearcher := deals.NewSearcher(log, dealRepo, cfg.Valuation)
	gridService := grid.New(log, gridRepo, listingRepo, cfg.Grid)

	hybridEngine := hybrid.New(log, knnSearcher, gridService, cfg.Valuation)
	combinedEngine := combined.New(log, knnSearcher, dealSearcher, cfg.Valuation)

	investCalculator := invest.New(log, cfg.Invest)
	duplicateDetector := duplicates.New(log, listingRepo)

	valuationService := valuation.New(
		log,
		normalizer,
		districtResolver,
		combinedEngine,
		hybridEngine,
		investCalculator,
		valuationRepo,
		m,
		cfg.Valuation,
	)

	sched, err := scheduler.New(log, gridService, cfg.Grid)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &App{
		Valuation:  valuationService,
		Duplicates: duplicateDetector,
		Grid:       gridService,
		Invest:     investCalculator,
		Scheduler:  sched,
		Metrics:    m,
	}, nil
}
