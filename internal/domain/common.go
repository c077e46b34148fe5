package domain

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultPageSize кол-во записей на странице по умолчанию
	DefaultPageSize = 20
	// MaxPageSize максимальное кол-во записей на странице
	MaxPageSize = 1000
)

// PaginationParams параметры выборки истории оценок
type PaginationParams struct {
	PageSize  int32
	PageToken string // cursor для cursor-based пагинации
}

// PageCursor курсор для cursor-based пагинации по (created_at, id)
type PageCursor struct {
	LastID        uuid.UUID `json:"id"`
	LastCreatedAt time.Time `json:"ca"`
}

// Encode кодирует курсор в base64 строку
func (c *PageCursor) Encode() string {
	if c == nil {
		return ""
	}
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// DecodePageCursor декодирует курсор из base64 строки
func DecodePageCursor(token string) (*PageCursor, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	var cursor PageCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, err
	}
	return &cursor, nil
}

// PaginatedResult результат пагинированного запроса
type PaginatedResult[T any] struct {
	Items         []T
	NextPageToken string
	HasMore       bool
}

// NormalizePageSize нормализует размер страницы
func NormalizePageSize(size int32) int32 {
	if size <= 0 {
		return DefaultPageSize
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}
