package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env         string `env:"ENV" env-default:"local"`
	DatabaseURL string `env:"DATABASE_URL" env-required:"true"`
	PoolSize    int    `env:"DB_POOL_SIZE" env-default:"10"`
	Suggest     SuggestConfig
	Grid        GridConfig
	Regions     RegionsConfig
	Valuation   ValuationConfig
	Invest      InvestConfig
}

// SuggestConfig — конфигурация сервиса стандартизации адресов (DaData и совместимые).
type SuggestConfig struct {
	Enabled bool          `env:"SUGGEST_ENABLE" env-default:"false"`
	BaseURL string        `env:"SUGGEST_BASE_URL" env-default:"https://cleaner.dadata.ru/api/v1"`
	APIKey  string        `env:"SUGGEST_API_KEY"`
	Secret  string        `env:"SUGGEST_SECRET"`
	Timeout time.Duration `env:"SUGGEST_TIMEOUT" env-default:"5s"`
}

// GridConfig — конфигурация агрегатора сетки.
type GridConfig struct {
	// CronSpec — расписание пересчёта агрегатов
	CronSpec string `env:"GRID_CRON" env-default:"@daily"`
	// WindowDays — окно выборки активных объявлений
	WindowDays int `env:"GRID_WINDOW_DAYS" env-default:"90"`
	// StaleDays — объявления, не виденные дольше, помечаются неактивными
	StaleDays int `env:"GRID_STALE_DAYS" env-default:"30"`
}

// RegionsConfig — конфигурация кэша полигонов.
type RegionsConfig struct {
	CacheRefresh time.Duration `env:"REGIONS_CACHE_REFRESH" env-default:"1h"`
	// CentroidCapKm — предел fallback-поиска по ближайшему центроиду
	CentroidCapKm float64 `env:"REGIONS_CENTROID_CAP_KM" env-default:"5"`
}

// ValuationConfig — параметры оценочного движка.
type ValuationConfig struct {
	// Bargain — скидка торга к ценам предложения
	Bargain float64 `env:"VALUATION_BARGAIN" env-default:"0.07"`
	// DealsWeight — множитель веса сделок при комбинировании источников
	DealsWeight float64 `env:"VALUATION_DEALS_WEIGHT" env-default:"1.5"`
	// DealsMaxAgeDays — окно давности сделок
	DealsMaxAgeDays int `env:"VALUATION_DEALS_MAX_AGE_DAYS" env-default:"365"`
	// QueryTimeout — дедлайн на один запрос к хранилищу
	QueryTimeout time.Duration `env:"VALUATION_QUERY_TIMEOUT" env-default:"10s"`
}

// InvestConfig — значения по умолчанию инвестиционного калькулятора.
// Рублёвые статьи — фиксированные расходы сделки.
type InvestConfig struct {
	Bargain          float64 `env:"INVEST_BARGAIN" env-default:"0.07"`
	MonthlyRate      float64 `env:"INVEST_MONTHLY_RATE" env-default:"0.04"`
	ProjectMonths    int     `env:"INVEST_PROJECT_MONTHS" env-default:"3"`
	TaxRate          float64 `env:"INVEST_TAX_RATE" env-default:"0.06"`
	RenovationMarkup float64 `env:"INVEST_RENOVATION_MARKUP" env-default:"1.8"`
	MortgageRate     float64 `env:"INVEST_MORTGAGE_RATE" env-default:"0.02"`
	MortgageLTV      float64 `env:"INVEST_MORTGAGE_LTV" env-default:"0.8"`
	MortgageIssueFee float64 `env:"INVEST_MORTGAGE_ISSUE_FEE" env-default:"0.0075"`
	// BankFlipTargetRate — стартовая целевая ставка для инверсии в bank_flip
	BankFlipTargetRate float64 `env:"INVEST_BANK_FLIP_TARGET_RATE" env-default:"0.24"`
	// PartnerMinMonthlyRate — наш минимум при партнёрском разделе
	PartnerMinMonthlyRate float64 `env:"INVEST_PARTNER_MIN_MONTHLY_RATE" env-default:"0.04"`
	// PartnerMinProfit — минимальная абсолютная прибыль на коротких проектах
	PartnerMinProfit float64 `env:"INVEST_PARTNER_MIN_PROFIT" env-default:"1000000"`

	CostNotary               float64 `env:"INVEST_COST_NOTARY" env-default:"30000"`
	CostStateFee             float64 `env:"INVEST_COST_STATE_FEE" env-default:"2000"`
	CostPIP                  float64 `env:"INVEST_COST_PIP" env-default:"50000"`
	CostAgency               float64 `env:"INVEST_COST_AGENCY" env-default:"150000"`
	CostUtilities            float64 `env:"INVEST_COST_UTILITIES" env-default:"30000"`
	CostEviction             float64 `env:"INVEST_COST_EVICTION" env-default:"100000"`
	CostRenovation           float64 `env:"INVEST_COST_RENOVATION" env-default:"1500000"`
	CostForeman              float64 `env:"INVEST_COST_FOREMAN" env-default:"150000"`
	CostRegistratorsTransfer float64 `env:"INVEST_COST_REG_TRANSFER" env-default:"15000"`
	CostRegistratorsMortgage float64 `env:"INVEST_COST_REG_MORTGAGE" env-default:"15000"`
	CostConturRegistration   float64 `env:"INVEST_COST_CONTUR" env-default:"10000"`
}

func MustLoad() *Config {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		panic("cannot read config from environment: " + err.Error())
	}
	return &cfg
}
