package valuation

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"flat_appraisal/internal/config"
	"flat_appraisal/internal/domain"
	"flat_appraisal/internal/lib/metrics"
)

type MockCombined struct {
	EstimateFunc func(ctx context.Context, req domain.ValuationRequest) (domain.Estimate, error)
}

func (m *MockCombined) Estimate(ctx context.Context, req domain.ValuationRequest) (domain.Estimate, error) {
	return m.EstimateFunc(ctx, req)
}

type MockHybrid struct {
	EstimateFunc func(ctx context.Context, req domain.ValuationRequest, regionID *int64) (domain.Estimate, error)
}

func (m *MockHybrid) Estimate(ctx context.Context, req domain.ValuationRequest, regionID *int64) (domain.Estimate, error) {
	return m.EstimateFunc(ctx, req, regionID)
}

type MockNormalizer struct {
	NormalizeFunc func(ctx context.Context, raw string) string
}

func (m *MockNormalizer) Normalize(ctx context.Context, raw string) string {
	return m.NormalizeFunc(ctx, raw)
}

type MockDistricts struct {
	ResolveFunc func(ctx context.Context, lat, lon float64, rawAddress string) (domain.ResolvedDistrict, error)
}

func (m *MockDistricts) Resolve(ctx context.Context, lat, lon float64, rawAddress string) (domain.ResolvedDistrict, error) {
	return m.ResolveFunc(ctx, lat, lon, rawAddress)
}

type MockInvest struct {
	CalculateFunc func(in domain.InvestmentInput) (domain.InvestmentResult, error)
}

func (m *MockInvest) Calculate(in domain.InvestmentInput) (domain.InvestmentResult, error) {
	return m.CalculateFunc(in)
}

type MockRecorder struct {
	InsertValuationFunc func(ctx context.Context, rec domain.ValuationRecord) error
}

func (m *MockRecorder) InsertValuation(ctx context.Context, rec domain.ValuationRecord) error {
	return m.InsertValuationFunc(ctx, rec)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func i32(v int32) *int32 { return &v }

// deps — полный комплект зависимостей со спокойными значениями по умолчанию.
type deps struct {
	combined   *MockCombined
	hybrid     *MockHybrid
	normalizer *MockNormalizer
	districts  *MockDistricts
	invest     *MockInvest
	recorder   *MockRecorder
}

func defaultDeps() *deps {
	return &deps{
		combined: &MockCombined{
			EstimateFunc: func(_ context.Context, req domain.ValuationRequest) (domain.Estimate, error) {
				return domain.Estimate{
					EstimatedPrice:       15_000_000,
					EstimatedPricePerSqm: 300_000,
					Confidence:           75,
					Method:               domain.MethodCombined,
				}, nil
			},
		},
		hybrid: &MockHybrid{
			EstimateFunc: func(_ context.Context, req domain.ValuationRequest, regionID *int64) (domain.Estimate, error) {
				return domain.Estimate{}, domain.ErrInsufficientData
			},
		},
		normalizer: &MockNormalizer{
			NormalizeFunc: func(_ context.Context, raw string) string {
				return strings.ToLower(raw)
			},
		},
		districts: &MockDistricts{
			ResolveFunc: func(_ context.Context, lat, lon float64, rawAddress string) (domain.ResolvedDistrict, error) {
				return domain.ResolvedDistrict{
					Region: &domain.Region{ID: 7, Name: "Хамовники", Level: domain.RegionLevelRaion},
					Method: domain.DistrictResolvePolygon,
				}, nil
			},
		},
		invest: &MockInvest{
			CalculateFunc: func(in domain.InvestmentInput) (domain.InvestmentResult, error) {
				return domain.InvestmentResult{ProjectType: in.ProjectType, InterestPrice: 13_000_000}, nil
			},
		},
		recorder: &MockRecorder{
			InsertValuationFunc: func(_ context.Context, rec domain.ValuationRecord) error { return nil },
		},
	}
}

func newTestService(d *deps) *Service {
	return New(
		testLogger(),
		d.normalizer,
		d.districts,
		d.combined,
		d.hybrid,
		d.invest,
		d.recorder,
		metrics.Get(testLogger()),
		config.ValuationConfig{QueryTimeout: time.Second},
	)
}

func testRequest() Request {
	return Request{
		ValuationRequest: domain.ValuationRequest{
			Lat:       55.73,
			Lon:       37.58,
			AreaTotal: 50,
			Rooms:     i32(2),
		},
		RawAddress: "Москва, Ленинский проспект, 45",
	}
}

func TestService_Appraise(t *testing.T) {
	d := defaultDeps()

	var recorded *domain.ValuationRecord
	d.recorder.InsertValuationFunc = func(_ context.Context, rec domain.ValuationRecord) error {
		recorded = &rec
		return nil
	}

	req := testRequest()
	req.TotalFloors = i32(9)
	req.BuildingType = domain.BuildingTypePanel

	resp, err := newTestService(d).Appraise(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Estimate.Method != domain.MethodCombined {
		t.Errorf("method = %q, want combined", resp.Estimate.Method)
	}
	if resp.NormalizedAddress == "" {
		t.Error("normalized address must be populated")
	}
	if resp.District.Region == nil || resp.District.Region.ID != 7 {
		t.Errorf("district = %+v, want region 7", resp.District)
	}

	if recorded == nil {
		t.Fatal("valuation must be recorded")
	}
	if recorded.ID != resp.ID {
		t.Error("record id must match response id")
	}
	if recorded.RegionID == nil || *recorded.RegionID != 7 {
		t.Errorf("record region = %v, want 7", recorded.RegionID)
	}
	wantSegment := domain.NewSegment(domain.BuildingTypePanel, 9, 2).ID()
	if recorded.SegmentID == nil || *recorded.SegmentID != wantSegment {
		t.Errorf("record segment = %v, want %d", recorded.SegmentID, wantSegment)
	}
}

func TestService_FallbackToHybrid(t *testing.T) {
	d := defaultDeps()
	d.combined.EstimateFunc = func(_ context.Context, req domain.ValuationRequest) (domain.Estimate, error) {
		return domain.Estimate{}, domain.ErrInsufficientData
	}

	var hybridRegion *int64
	d.hybrid.EstimateFunc = func(_ context.Context, req domain.ValuationRequest, regionID *int64) (domain.Estimate, error) {
		hybridRegion = regionID
		return domain.Estimate{
			EstimatedPrice: 14_000_000,
			Method:         domain.MethodBottom3WithBargain,
		}, nil
	}

	resp, err := newTestService(d).Appraise(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Estimate.Method != domain.MethodBottom3WithBargain {
		t.Errorf("method = %q, want hybrid bottom-k", resp.Estimate.Method)
	}
	if hybridRegion == nil || *hybridRegion != 7 {
		t.Errorf("hybrid region = %v, want 7", hybridRegion)
	}
}

func TestService_CombinedTransportErrorIsFatal(t *testing.T) {
	d := defaultDeps()
	d.combined.EstimateFunc = func(_ context.Context, req domain.ValuationRequest) (domain.Estimate, error) {
		return domain.Estimate{}, errors.New("connection refused")
	}
	d.hybrid.EstimateFunc = func(_ context.Context, req domain.ValuationRequest, regionID *int64) (domain.Estimate, error) {
		t.Error("hybrid must not be tried on transport errors")
		return domain.Estimate{}, nil
	}

	if _, err := newTestService(d).Appraise(context.Background(), testRequest()); err == nil {
		t.Error("expected error")
	}
}

func TestService_DistrictFailureIsNotFatal(t *testing.T) {
	d := defaultDeps()
	d.districts.ResolveFunc = func(_ context.Context, lat, lon float64, rawAddress string) (domain.ResolvedDistrict, error) {
		return domain.ResolvedDistrict{}, errors.New("postgis down")
	}

	resp, err := newTestService(d).Appraise(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("district failure must not fail the valuation: %v", err)
	}
	if resp.District.Method != domain.DistrictResolveNone {
		t.Errorf("district method = %q, want none", resp.District.Method)
	}
}

func TestService_InvestmentBlock(t *testing.T) {
	d := defaultDeps()

	var gotInput domain.InvestmentInput
	d.invest.CalculateFunc = func(in domain.InvestmentInput) (domain.InvestmentResult, error) {
		gotInput = in
		return domain.InvestmentResult{ProjectType: in.ProjectType, InterestPrice: 13_000_000}, nil
	}

	req := testRequest()
	req.Investment = &domain.InvestmentInput{ProjectType: domain.ProjectTypeOwn}

	resp, err := newTestService(d).Appraise(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Investment == nil {
		t.Fatal("investment result must be populated")
	}
	// Рыночная цена для инверсии — из только что полученной оценки
	if gotInput.MarketPrice != 15_000_000 {
		t.Errorf("market price = %v, want the estimate 15000000", gotInput.MarketPrice)
	}
	if gotInput.AreaTotal != 50 {
		t.Errorf("area = %v, want 50", gotInput.AreaTotal)
	}
}

func TestService_InvestmentRejectionKeepsValuation(t *testing.T) {
	d := defaultDeps()
	d.invest.CalculateFunc = func(in domain.InvestmentInput) (domain.InvestmentResult, error) {
		return domain.InvestmentResult{}, &domain.CostsExceedTargetError{InterestPrice: -200_000}
	}

	req := testRequest()
	req.Investment = &domain.InvestmentInput{ProjectType: domain.ProjectTypeOwn}

	resp, err := newTestService(d).Appraise(context.Background(), req)
	if err != nil {
		t.Fatalf("costs exceeding target must not fail the valuation: %v", err)
	}

	if resp.Investment != nil {
		t.Error("investment result must be empty on rejection")
	}
	if resp.InvestmentError == "" {
		t.Error("rejection reason must be reported")
	}
	if resp.Estimate.EstimatedPrice != 15_000_000 {
		t.Errorf("estimate = %v, want 15000000", resp.Estimate.EstimatedPrice)
	}
}

func TestService_InvestmentTransportErrorIsFatal(t *testing.T) {
	d := defaultDeps()
	d.invest.CalculateFunc = func(in domain.InvestmentInput) (domain.InvestmentResult, error) {
		return domain.InvestmentResult{}, errors.New("bad input")
	}

	req := testRequest()
	req.Investment = &domain.InvestmentInput{ProjectType: domain.ProjectTypeOwn}

	if _, err := newTestService(d).Appraise(context.Background(), req); err == nil {
		t.Error("expected error")
	}
}

func TestService_RecorderFailureIsNotFatal(t *testing.T) {
	d := defaultDeps()
	d.recorder.InsertValuationFunc = func(_ context.Context, rec domain.ValuationRecord) error {
		return errors.New("disk full")
	}

	if _, err := newTestService(d).Appraise(context.Background(), testRequest()); err != nil {
		t.Errorf("recorder failure must not fail the valuation: %v", err)
	}
}

func TestService_InvalidRequest(t *testing.T) {
	d := defaultDeps()
	d.normalizer.NormalizeFunc = func(_ context.Context, raw string) string {
		t.Error("normalizer must not be called for invalid request")
		return raw
	}

	req := testRequest()
	req.AreaTotal = 0

	_, err := newTestService(d).Appraise(context.Background(), req)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestService_NoRawAddressSkipsNormalization(t *testing.T) {
	d := defaultDeps()
	d.normalizer.NormalizeFunc = func(_ context.Context, raw string) string {
		t.Error("normalizer must not be called without an address")
		return raw
	}

	req := testRequest()
	req.RawAddress = ""

	resp, err := newTestService(d).Appraise(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.NormalizedAddress != "" {
		t.Errorf("normalized = %q, want empty", resp.NormalizedAddress)
	}
}
