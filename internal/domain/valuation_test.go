package domain

import (
	"errors"
	"testing"
)

func TestValuationRequest_Normalize(t *testing.T) {
	req := ValuationRequest{Lat: 55.75, Lon: 37.62, AreaTotal: 50}
	req.Normalize()

	if req.K != DefaultK {
		t.Errorf("K default: got %d, want %d", req.K, DefaultK)
	}
	if req.MaxDistanceKm != DefaultMaxDistanceKm {
		t.Errorf("MaxDistanceKm default: got %f", req.MaxDistanceKm)
	}
	if req.MaxAgeDays != DefaultMaxAgeDays {
		t.Errorf("MaxAgeDays default: got %d", req.MaxAgeDays)
	}
	if req.BuildingType != BuildingTypeUnknown {
		t.Errorf("empty building type must become unknown, got %s", req.BuildingType)
	}
}

func TestValuationRequest_NormalizeClamps(t *testing.T) {
	req := ValuationRequest{
		Lat: 55.75, Lon: 37.62, AreaTotal: 50,
		K: 200, MaxDistanceKm: 100, MaxAgeDays: 5000,
	}
	req.Normalize()

	if req.K != MaxK {
		t.Errorf("K should clamp to %d, got %d", MaxK, req.K)
	}
	if req.MaxDistanceKm != MaxMaxDistanceKm {
		t.Errorf("MaxDistanceKm should clamp to %f, got %f", MaxMaxDistanceKm, req.MaxDistanceKm)
	}
	if req.MaxAgeDays != MaxMaxAgeDays {
		t.Errorf("MaxAgeDays should clamp to %d, got %d", MaxMaxAgeDays, req.MaxAgeDays)
	}

	req = ValuationRequest{Lat: 55.75, Lon: 37.62, AreaTotal: 50, MaxDistanceKm: 0.1}
	req.Normalize()
	if req.MaxDistanceKm != MinMaxDistanceKm {
		t.Errorf("MaxDistanceKm should clamp up to %f, got %f", MinMaxDistanceKm, req.MaxDistanceKm)
	}
}

func TestValuationRequest_Validate(t *testing.T) {
	rooms := int32(-1)

	tests := []struct {
		name    string
		req     ValuationRequest
		wantErr bool
	}{
		{"valid", ValuationRequest{Lat: 55.75, Lon: 37.62, AreaTotal: 50}, false},
		{"no coordinates", ValuationRequest{AreaTotal: 50}, true},
		{"zero area", ValuationRequest{Lat: 55.75, Lon: 37.62}, true},
		{"negative rooms", ValuationRequest{Lat: 55.75, Lon: 37.62, AreaTotal: 50, Rooms: &rooms}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCostsExceedTargetError_Unwrap(t *testing.T) {
	err := error(&CostsExceedTargetError{InterestPrice: -100, Breakdown: map[string]float64{"agency": 150000}})

	if !errors.Is(err, ErrCostsExceedTarget) {
		t.Errorf("CostsExceedTargetError must unwrap to ErrCostsExceedTarget")
	}

	var target *CostsExceedTargetError
	if !errors.As(err, &target) || target.Breakdown["agency"] != 150000 {
		t.Errorf("breakdown must survive the error chain")
	}
}
