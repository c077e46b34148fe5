package metrics

import (
	"log/slog"
	"sync"
	"time"
)

// ServiceType — измеряемая зависимость ядра.
type ServiceType string

const (
	ServiceSuggest       ServiceType = "suggest"
	ServiceListingSearch ServiceType = "listing_search"
	ServiceDealSearch    ServiceType = "deal_search"
	ServiceGrid          ServiceType = "grid"
	ServiceValuation     ServiceType = "valuation"
)

type counters struct {
	callsTotal     int64
	errorsTotal    int64
	latencyTotalMs int64
	lastLatencyMs  int64
}

// Metrics — счётчики вызовов и задержек по зависимостям оценки.
type Metrics struct {
	mu  sync.RWMutex
	log *slog.Logger

	byService map[ServiceType]*counters
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Get возвращает глобальный экземпляр метрик.
func Get(log *slog.Logger) *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			log:       log,
			byService: make(map[ServiceType]*counters),
		}
	})
	return globalMetrics
}

// RecordCall записывает один вызов зависимости.
func (m *Metrics) RecordCall(service ServiceType, latency time.Duration, err error) {
	latencyMs := latency.Milliseconds()

	m.mu.Lock()
	c, ok := m.byService[service]
	if !ok {
		c = &counters{}
		m.byService[service] = c
	}
	c.callsTotal++
	c.latencyTotalMs += latencyMs
	c.lastLatencyMs = latencyMs
	if err != nil {
		c.errorsTotal++
	}
	m.mu.Unlock()

	if m.log != nil {
		attrs := []any{
			slog.String("service", string(service)),
			slog.Int64("latency_ms", latencyMs),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
			m.log.Warn("dependency call failed", attrs...)
		} else {
			m.log.Debug("dependency call completed", attrs...)
		}
	}
}

// CallTimer помогает измерять время вызовов.
type CallTimer struct {
	metrics   *Metrics
	service   ServiceType
	startTime time.Time
}

// StartTimer начинает измерение времени вызова.
func (m *Metrics) StartTimer(service ServiceType) *CallTimer {
	return &CallTimer{
		metrics:   m,
		service:   service,
		startTime: time.Now(),
	}
}

// Stop останавливает таймер и записывает метрики.
func (t *CallTimer) Stop(err error) {
	t.metrics.RecordCall(t.service, time.Since(t.startTime), err)
}

// ServiceStats — статистика по одной зависимости.
type ServiceStats struct {
	CallsTotal    int64   `json:"calls_total"`
	ErrorsTotal   int64   `json:"errors_total"`
	ErrorRate     float64 `json:"error_rate"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	LastLatencyMs int64   `json:"last_latency_ms"`
}

// GetStats возвращает текущую статистику по всем зависимостям.
func (m *Metrics) GetStats() map[ServiceType]ServiceStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[ServiceType]ServiceStats, len(m.byService))
	for service, c := range m.byService {
		s := ServiceStats{
			CallsTotal:    c.callsTotal,
			ErrorsTotal:   c.errorsTotal,
			LastLatencyMs: c.lastLatencyMs,
		}
		if c.callsTotal > 0 {
			s.ErrorRate = float64(c.errorsTotal) / float64(c.callsTotal)
			s.AvgLatencyMs = float64(c.latencyTotalMs) / float64(c.callsTotal)
		}
		out[service] = s
	}
	return out
}
