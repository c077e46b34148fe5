package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"flat_appraisal/internal/config"
	"log/slog"
)

// Client — клиент сервиса стандартизации адресов (DaData clean API и совместимые).
// Возвращённая строка всё равно прогоняется через regex-нормализатор,
// чтобы оба пути давали одинаковые ключи.
type Client interface {
	CleanAddress(ctx context.Context, req CleanAddressRequest) (*CleanAddressResponse, error)
	IsEnabled() bool
}

type client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	secret     string
	log        *slog.Logger
}

// NewClient создаёт новый клиент сервиса подсказок.
func NewClient(cfg config.SuggestConfig, log *slog.Logger) Client {
	if !cfg.Enabled {
		return &noopClient{log: log}
	}

	return &client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		secret:  cfg.Secret,
		log:     log,
	}
}

// CleanAddressRequest — запрос на стандартизацию одного адреса.
type CleanAddressRequest struct {
	Query string `json:"query"`
}

// CleanAddressResponse — стандартизованный адрес с разобранными компонентами.
type CleanAddressResponse struct {
	Result   string  `json:"result"`
	Street   string  `json:"street,omitempty"`
	House    string  `json:"house,omitempty"`
	GeoLat   *string `json:"geo_lat,omitempty"`
	GeoLon   *string `json:"geo_lon,omitempty"`
	QCLevel  int     `json:"qc"`
	District string  `json:"city_district,omitempty"`
}

// CleanAddress отправляет адрес на стандартизацию.
func (c *client) CleanAddress(ctx context.Context, req CleanAddressRequest) (*CleanAddressResponse, error) {
	const op = "suggest.Client.CleanAddress"

	url := fmt.Sprintf("%s/clean/address", c.baseURL)

	reqBody, err := json.Marshal([]string{req.Query})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to marshal request: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", op, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Token "+c.apiKey)
	}
	if c.secret != "" {
		httpReq.Header.Set("X-Secret", c.secret)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to send request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s: unexpected status code %d: %s", op, resp.StatusCode, string(body))
	}

	var results []CleanAddressResponse
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("%s: failed to decode response: %w", op, err)
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("%s: empty response", op)
	}

	return &results[0], nil
}

func (c *client) IsEnabled() bool {
	return true
}

// noopClient — заглушка при выключенном сервисе; нормализация идёт
// только через regex-пайплайн.
type noopClient struct {
	log *slog.Logger
}

func (c *noopClient) CleanAddress(ctx context.Context, req CleanAddressRequest) (*CleanAddressResponse, error) {
	return nil, fmt.Errorf("suggest service is disabled")
}

func (c *noopClient) IsEnabled() bool {
	return false
}
