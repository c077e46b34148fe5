package hybrid

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"flat_appraisal/internal/config"
	"flat_appraisal/internal/domain"
	"flat_appraisal/internal/lib/logger/sl"
	"flat_appraisal/internal/lib/stats"
	"log/slog"
)

// KNNSearcher — поиск аналогов по объявлениям.
type KNNSearcher interface {
	Search(ctx context.Context, req domain.ValuationRequest) (domain.SearchResult, error)
}

// GridService — каскад агрегатов сетки.
type GridService interface {
	Estimate(ctx context.Context, regionID int64, segment domain.PropertySegment) (domain.GridEstimate, error)
}

// BottomK — усредняются не более трёх самых дешёвых аналогов.
const BottomK = 3

// Engine — гибрид KNN и сетки. Цена от KNN считается стратегией bottom-K
// со скидкой торга; агрегат сетки подмешивается по доле доверия
// и остаётся строгим fallback, когда аналогов нет вовсе.
type Engine struct {
	log     *slog.Logger
	knn     KNNSearcher
	grid    GridService
	bargain float64
}

func New(log *slog.Logger, knnSearcher KNNSearcher, gridService GridService, cfg config.ValuationConfig) *Engine {
	return &Engine{
		log:     log,
		knn:     knnSearcher,
		grid:    gridService,
		bargain: cfg.Bargain,
	}
}

// Estimate — оценка только по стороне предложения (объявления + сетка).
// regionID == nil означает, что район не определён и сетка недоступна.
func (e *Engine) Estimate(ctx context.Context, req domain.ValuationRequest, regionID *int64) (domain.Estimate, error) {
	const op = "hybrid.Engine.Estimate"

	req.Normalize()
	if err := req.Validate(); err != nil {
		return domain.Estimate{}, fmt.Errorf("%s: %w", op, err)
	}

	knnRes, knnErr := e.knn.Search(ctx, req)
	if knnErr != nil && !errors.Is(knnErr, domain.ErrInsufficientData) {
		e.log.Warn("knn search failed, falling back to grid", sl.Err(knnErr))
	}
	hasKNN := knnErr == nil && knnRes.Count() > 0

	var gridEst domain.GridEstimate
	hasGrid := false
	if regionID != nil {
		segment := segmentFromRequest(req)
		est, err := e.grid.Estimate(ctx, *regionID, segment)
		if err == nil {
			gridEst = est
			hasGrid = true
		} else if !errors.Is(err, domain.ErrInsufficientData) {
			e.log.Warn("grid estimate failed", sl.Err(err))
		}
	}

	switch {
	case hasKNN && hasGrid:
		return e.blend(req, knnRes, gridEst), nil
	case hasKNN:
		return e.fromKNN(req, knnRes), nil
	case hasGrid:
		return e.fromGrid(req, gridEst), nil
	default:
		return domain.Estimate{}, fmt.Errorf("%s: %w", op, domain.ErrInsufficientData)
	}
}

// bottomKPrice — IQR-фильтр выбросов, затем среднее нижних min(3, n) цен за м²
// со скидкой торга. Возвращает цену за м² и фактический размер низа.
func (e *Engine) bottomKPrice(comparables []domain.Comparable) (float64, int) {
	psms := make([]float64, len(comparables))
	for i, c := range comparables {
		psms[i] = c.PricePerSqm
	}

	// Фильтр выбросов применяется только на достаточной выборке
	if len(psms) >= 4 {
		if survivors := stats.FilterOutliers(psms); len(survivors) >= 3 {
			psms = survivors
		}
	}

	sort.Float64s(psms)
	k := BottomK
	if len(psms) < k {
		k = len(psms)
	}

	return stats.Mean(psms[:k]) * (1 - e.bargain), k
}

func (e *Engine) fromKNN(req domain.ValuationRequest, knnRes domain.SearchResult) domain.Estimate {
	psm, k := e.bottomKPrice(knnRes.Comparables)
	price := psm * req.AreaTotal

	est := domain.Estimate{
		EstimatedPrice:       price,
		EstimatedPricePerSqm: psm,
		Confidence:           knnRes.Confidence,
		Method:               bottomKMethod(k),
		GridWeight:           0,
		KNNWeight:            1,
		Comparables:          knnRes.Comparables,
	}
	applyBand(&est)
	return est
}

func (e *Engine) fromGrid(req domain.ValuationRequest, gridEst domain.GridEstimate) domain.Estimate {
	psm := gridEst.Aggregate.MedianPSM
	price := psm * req.AreaTotal

	est := domain.Estimate{
		EstimatedPrice:       price,
		EstimatedPricePerSqm: psm,
		Confidence:           gridEst.Confidence,
		Method:               domain.MethodGridOnly,
		GridWeight:           1,
		KNNWeight:            0,
	}
	applyBand(&est)
	return est
}

// blend — оба источника: цены смешиваются по долям доверия, метод отражает
// доминирующую сторону.
func (e *Engine) blend(req domain.ValuationRequest, knnRes domain.SearchResult, gridEst domain.GridEstimate) domain.Estimate {
	knnPSM, _ := e.bottomKPrice(knnRes.Comparables)
	gridPSM := gridEst.Aggregate.MedianPSM

	totalConf := float64(knnRes.Confidence + gridEst.Confidence)
	knnW := 0.5
	if totalConf > 0 {
		knnW = float64(knnRes.Confidence) / totalConf
	}
	gridW := 1 - knnW

	psm := knnPSM*knnW + gridPSM*gridW

	method := domain.MethodHybridBalanced
	switch {
	case knnW > 0.6:
		method = domain.MethodHybridKNNHeavy
	case knnW < 0.4:
		method = domain.MethodHybridGridHeavy
	}

	est := domain.Estimate{
		EstimatedPrice:       psm * req.AreaTotal,
		EstimatedPricePerSqm: psm,
		Confidence:           int(math.Round(knnW*float64(knnRes.Confidence) + gridW*float64(gridEst.Confidence))),
		Method:               method,
		GridWeight:           gridW,
		KNNWeight:            knnW,
		Comparables:          knnRes.Comparables,
	}
	applyBand(&est)
	return est
}

func bottomKMethod(k int) domain.MethodTag {
	switch k {
	case 1:
		return domain.MethodBottom1WithBargain
	case 2:
		return domain.MethodBottom2WithBargain
	default:
		return domain.MethodBottom3WithBargain
	}
}

// applyBand — ширина ценового коридора по доверию: 70+ ⇒ ±5 %,
// 50–69 ⇒ ±10 %, ниже ⇒ ±15 %.
func applyBand(est *domain.Estimate) {
	var spread float64
	switch {
	case est.Confidence >= 70:
		spread = 0.05
	case est.Confidence >= 50:
		spread = 0.10
	default:
		spread = 0.15
	}

	est.PriceRangeLow = est.EstimatedPrice * (1 - spread)
	est.PriceRangeHigh = est.EstimatedPrice * (1 + spread)
}

func segmentFromRequest(req domain.ValuationRequest) domain.PropertySegment {
	var floors, rooms int32
	if req.TotalFloors != nil {
		floors = *req.TotalFloors
	}
	if req.Rooms != nil {
		rooms = *req.Rooms
	}
	return domain.NewSegment(req.BuildingType, floors, rooms)
}
