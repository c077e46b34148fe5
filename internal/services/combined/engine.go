package combined

import (
	"context"
	"errors"
	"fmt"
	"math"

	"flat_appraisal/internal/config"
	"flat_appraisal/internal/domain"
	"flat_appraisal/internal/lib/logger/sl"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// ListingSearcher — KNN по объявлениям (цены предложения).
type ListingSearcher interface {
	Search(ctx context.Context, req domain.ValuationRequest) (domain.SearchResult, error)
}

// DealSearcher — поиск по зарегистрированным сделкам (фактические цены).
type DealSearcher interface {
	Search(ctx context.Context, req domain.ValuationRequest) (domain.SearchResult, error)
}

// Engine — слияние двух разнородных источников цены. Объявления входят
// со скидкой торга, сделки — без неё; веса отражают большую
// достоверность фактических цен.
type Engine struct {
	log         *slog.Logger
	listings    ListingSearcher
	deals       DealSearcher
	bargain     float64
	dealsWeight float64
}

func New(log *slog.Logger, listings ListingSearcher, deals DealSearcher, cfg config.ValuationConfig) *Engine {
	return &Engine{
		log:         log,
		listings:    listings,
		deals:       deals,
		bargain:     cfg.Bargain,
		dealsWeight: cfg.DealsWeight,
	}
}

// Estimate — параллельный запрос обоих источников с последующим
// взвешенным слиянием. Таймаут одной стороны понижает её до отсутствующей,
// а не валит оценку целиком.
func (e *Engine) Estimate(ctx context.Context, req domain.ValuationRequest) (domain.Estimate, error) {
	const op = "combined.Engine.Estimate"

	req.Normalize()
	if err := req.Validate(); err != nil {
		return domain.Estimate{}, fmt.Errorf("%s: %w", op, err)
	}

	var listingRes, dealRes domain.SearchResult
	var listingErr, dealErr error

	// Два независимых пространственных запроса; деградация стороны
	// обрабатывается ниже, поэтому обе горутины возвращают nil.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		listingRes, listingErr = e.listings.Search(gctx, req)
		return nil
	})
	g.Go(func() error {
		dealRes, dealErr = e.deals.Search(gctx, req)
		return nil
	})
	_ = g.Wait()

	hasListings := e.sideUsable(listingErr, "listings")
	hasDeals := e.sideUsable(dealErr, "deals")

	if hasListings {
		hasListings = listingRes.Count() > 0
	}
	if hasDeals {
		hasDeals = dealRes.Count() > 0
	}

	switch {
	case !hasListings && !hasDeals:
		return domain.Estimate{}, fmt.Errorf("%s: %w", op, domain.ErrInsufficientData)
	case hasListings && !hasDeals:
		return e.singleSide(req, listingRes, nil), nil
	case !hasListings && hasDeals:
		return e.singleSide(req, dealRes, &dealRes), nil
	}

	return e.merge(req, listingRes, dealRes), nil
}

// sideUsable — отсутствие данных и таймаут стороны не фатальны;
// остальные ошибки тоже деградируют локально, но логируются громче.
func (e *Engine) sideUsable(err error, side string) bool {
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, domain.ErrInsufficientData):
		// Штатный случай: источник пуст
	case errors.Is(err, domain.ErrTimeout):
		e.log.Warn("source timed out, degrading to the other side", slog.String("side", side))
	default:
		e.log.Error("source failed, degrading to the other side", slog.String("side", side), sl.Err(err))
	}
	return false
}

// singleSide — данные только от одного источника.
func (e *Engine) singleSide(req domain.ValuationRequest, res domain.SearchResult, deals *domain.SearchResult) domain.Estimate {
	psm := res.MedianPricePerSqm
	method := domain.MethodListingsOnly
	var comparables, dealComparables []domain.Comparable

	if deals != nil {
		// Фактические цены: без скидки торга
		method = domain.MethodTransactionsOnly
		dealComparables = res.Comparables
	} else {
		psm *= 1 - e.bargain
		comparables = res.Comparables
	}

	est := domain.Estimate{
		EstimatedPrice:       psm * req.AreaTotal,
		EstimatedPricePerSqm: psm,
		Confidence:           ladder(float64(res.Count())),
		Method:               method,
		Comparables:          comparables,
		Deals:                dealComparables,
	}
	applyBand(&est)
	return est
}

// merge — обе стороны: объявления дисконтируются, сделки нет;
// веса: 1.0 · n объявлений против 1.5 · n сделок.
func (e *Engine) merge(req domain.ValuationRequest, listingRes, dealRes domain.SearchResult) domain.Estimate {
	listingPSM := listingRes.MedianPricePerSqm * (1 - e.bargain)
	dealPSM := dealRes.MedianPricePerSqm

	listingW := 1.0 * float64(listingRes.Count())
	dealW := e.dealsWeight * float64(dealRes.Count())
	psm := (listingPSM*listingW + dealPSM*dealW) / (listingW + dealW)

	est := domain.Estimate{
		EstimatedPrice:       psm * req.AreaTotal,
		EstimatedPricePerSqm: psm,
		Confidence:           e.combinedConfidence(listingRes.Count(), dealRes.Count()),
		Method:               domain.MethodCombined,
		GridWeight:           0,
		KNNWeight:            1,
		Comparables:          listingRes.Comparables,
		Deals:                dealRes.Comparables,
	}
	applyBand(&est)
	return est
}

// combinedConfidence — база по эффективному весу более слабой стороны,
// бонус +10 (потолок 90), когда обе стороны дали от трёх аналогов.
func (e *Engine) combinedConfidence(nListings, nDeals int) int {
	weak := math.Min(float64(nListings), e.dealsWeight*float64(nDeals))

	conf := ladder(weak)
	if nListings >= 3 && nDeals >= 3 {
		conf += 10
		if conf > 90 {
			conf = 90
		}
	}

	return conf
}

func ladder(n float64) int {
	switch {
	case n >= 10:
		return 80
	case n >= 5:
		return 65
	case n >= 3:
		return 50
	default:
		return 30
	}
}

// applyBand — коридор комбинированной оценки всегда ±5 %.
func applyBand(est *domain.Estimate) {
	est.PriceRangeLow = est.EstimatedPrice * 0.95
	est.PriceRangeHigh = est.EstimatedPrice * 1.05
}
