package valuation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flat_appraisal/internal/config"
	"flat_appraisal/internal/domain"
	"flat_appraisal/internal/lib/logger/sl"
	"flat_appraisal/internal/lib/metrics"
	"log/slog"

	"github.com/google/uuid"
)

// CombinedEstimator — основной движок: объявления + сделки.
type CombinedEstimator interface {
	Estimate(ctx context.Context, req domain.ValuationRequest) (domain.Estimate, error)
}

// HybridEstimator — запасной движок: KNN + сеточные агрегаты района.
type HybridEstimator interface {
	Estimate(ctx context.Context, req domain.ValuationRequest, regionID *int64) (domain.Estimate, error)
}

// AddressNormalizer — приведение сырого адреса к каноническому виду.
type AddressNormalizer interface {
	Normalize(ctx context.Context, raw string) string
}

// DistrictResolver — определение района по координатам и адресу.
type DistrictResolver interface {
	Resolve(ctx context.Context, lat, lon float64, rawAddress string) (domain.ResolvedDistrict, error)
}

// InvestCalculator — расчёт цены интереса поверх рыночной оценки.
type InvestCalculator interface {
	Calculate(in domain.InvestmentInput) (domain.InvestmentResult, error)
}

// ValuationRecorder — журнал оценок.
type ValuationRecorder interface {
	InsertValuation(ctx context.Context, rec domain.ValuationRecord) error
}

// Request — один запрос оценки: атрибуты квартиры, сырой адрес
// и необязательный инвестиционный блок.
type Request struct {
	domain.ValuationRequest
	RawAddress string
	// Investment — если задан, к оценке добавляется расчёт цены интереса
	Investment *domain.InvestmentInput
}

// Response — ответ оценки в форме записи журнала плюс нормализованный адрес.
type Response struct {
	ID                uuid.UUID
	NormalizedAddress string
	District          domain.ResolvedDistrict
	Estimate          domain.Estimate
	Investment        *domain.InvestmentResult
	// InvestmentError — инвестиционный блок не сошёлся; оценка при этом валидна
	InvestmentError string
	CreatedAt       time.Time
}

// Service — оркестратор оценки: нормализация, район, движки, журнал.
type Service struct {
	log          *slog.Logger
	normalizer   AddressNormalizer
	districts    DistrictResolver
	combined     CombinedEstimator
	hybrid       HybridEstimator
	invest       InvestCalculator
	recorder     ValuationRecorder
	metrics      *metrics.Metrics
	queryTimeout time.Duration
}

func New(
	log *slog.Logger,
	normalizer AddressNormalizer,
	districts DistrictResolver,
	combined CombinedEstimator,
	hybrid HybridEstimator,
	invest InvestCalculator,
	recorder ValuationRecorder,
	m *metrics.Metrics,
	cfg config.ValuationConfig,
) *Service {
	return &Service{
		log:          log,
		normalizer:   normalizer,
		districts:    districts,
		combined:     combined,
		hybrid:       hybrid,
		invest:       invest,
		recorder:     recorder,
		metrics:      m,
		queryTimeout: cfg.QueryTimeout,
	}
}

// Appraise — полный цикл одной оценки. Комбинированный движок первичен;
// при нехватке данных оценка деградирует к гибридному (KNN + сетка).
func (s *Service) Appraise(ctx context.Context, req Request) (Response, error) {
	const op = "valuation.Service.Appraise"

	timer := s.metrics.StartTimer(metrics.ServiceValuation)

	resp, err := s.appraise(ctx, req)
	timer.Stop(err)
	if err != nil {
		return Response{}, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}

func (s *Service) appraise(ctx context.Context, req Request) (Response, error) {
	req.ValuationRequest.Normalize()
	if err := req.ValuationRequest.Validate(); err != nil {
		return Response{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	normalized := ""
	if req.RawAddress != "" {
		normalized = s.normalizer.Normalize(ctx, req.RawAddress)
	}

	district, err := s.districts.Resolve(ctx, req.Lat, req.Lon, req.RawAddress)
	if err != nil {
		// Район — уточняющий сигнал, не обязательный
		s.log.Warn("district resolve failed", sl.Err(err))
		district = domain.ResolvedDistrict{Method: domain.DistrictResolveNone}
	}

	var regionID *int64
	if district.Region != nil {
		regionID = &district.Region.ID
	}

	est, err := s.estimate(ctx, req.ValuationRequest, regionID)
	if err != nil {
		return Response{}, err
	}

	resp := Response{
		ID:                uuid.New(),
		NormalizedAddress: normalized,
		District:          district,
		Estimate:          est,
		CreatedAt:         time.Now(),
	}

	if req.Investment != nil {
		in := *req.Investment
		in.MarketPrice = est.EstimatedPrice
		in.AreaTotal = req.AreaTotal

		result, invErr := s.invest.Calculate(in)
		switch {
		case invErr == nil:
			resp.Investment = &result
		case errors.Is(invErr, domain.ErrCostsExceedTarget):
			// Оценка валидна, не сошёлся только инвестиционный расчёт
			s.log.Warn("investment block rejected", sl.Err(invErr))
			resp.InvestmentError = invErr.Error()
		default:
			return Response{}, invErr
		}
	}

	s.record(ctx, req, regionID, resp)

	return resp, nil
}

// estimate — каскад движков: combined → hybrid.
func (s *Service) estimate(ctx context.Context, req domain.ValuationRequest, regionID *int64) (domain.Estimate, error) {
	est, err := s.combined.Estimate(ctx, req)
	if err == nil {
		return est, nil
	}
	if !errors.Is(err, domain.ErrInsufficientData) {
		return domain.Estimate{}, err
	}

	s.log.Info("combined engine has no data, falling back to hybrid")

	est, err = s.hybrid.Estimate(ctx, req, regionID)
	if err != nil {
		return domain.Estimate{}, err
	}
	return est, nil
}

// record — журнал только на добавление; отказ журнала не валит оценку.
func (s *Service) record(ctx context.Context, req Request, regionID *int64, resp Response) {
	var segmentID *int64
	if req.TotalFloors != nil {
		rooms := int32(0)
		if req.Rooms != nil {
			rooms = *req.Rooms
		}
		id := domain.NewSegment(req.BuildingType, *req.TotalFloors, rooms).ID()
		segmentID = &id
	}

	rec := domain.ValuationRecord{
		ID:         resp.ID,
		Request:    req.ValuationRequest,
		RegionID:   regionID,
		SegmentID:  segmentID,
		Estimate:   resp.Estimate,
		Investment: resp.Investment,
		CreatedAt:  resp.CreatedAt,
	}
	if err := s.recorder.InsertValuation(ctx, rec); err != nil {
		s.log.Error("failed to record valuation", sl.Err(err))
	}
}
