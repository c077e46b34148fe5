package domain

// ProjectType — модель инвестиционного проекта.
type ProjectType string

const (
	ProjectTypeOwn         ProjectType = "own"          // Собственные средства, прибыль целиком наша
	ProjectTypePartner     ProjectType = "partner"      // Партнёрские средства, раздел прибыли 50/50
	ProjectTypePartnerFlip ProjectType = "partner_flip" // Партнёрский флип с ремонтом
	ProjectTypeBankFlip    ProjectType = "bank_flip"    // Флип с ипотечным плечом
)

func (t ProjectType) String() string {
	return string(t)
}

// ParseProjectType валидирует тип проекта.
func ParseProjectType(s string) (ProjectType, error) {
	switch ProjectType(s) {
	case ProjectTypeOwn, ProjectTypePartner, ProjectTypePartnerFlip, ProjectTypeBankFlip:
		return ProjectType(s), nil
	default:
		return "", ErrInvalidInput
	}
}

// CostToggles — включение отдельных статей расходов проекта.
type CostToggles struct {
	Notary               bool
	StateFee             bool
	PIP                  bool // Проверка юридической чистоты
	Agency               bool
	Utilities            bool
	Eviction             bool
	Renovation           bool
	Foreman              bool
	Financing            bool
	RegistratorsTransfer bool
	RegistratorsMortgage bool
	ConturRegistration   bool
}

// InvestmentInput — входные данные инвестиционного расчёта.
// Нулевые числовые поля заменяются значениями по умолчанию из конфигурации.
type InvestmentInput struct {
	ProjectType ProjectType
	MarketPrice float64
	AreaTotal   float64

	Toggles CostToggles

	// Bargain — скидка торга к рыночной цене, по умолчанию 0.07
	Bargain float64
	// MonthlyRate — целевая месячная доходность, по умолчанию 0.04
	MonthlyRate float64
	// ProjectMonths — длительность проекта, по умолчанию 3
	ProjectMonths int
	// TaxRate — налог с продажи, по умолчанию 0.06
	TaxRate float64
	// RenovationMarkup — множитель прироста цены от ремонта, по умолчанию 1.8
	RenovationMarkup float64
	// FinancingRate — надбавка за привлечённое финансирование, [0,1)
	FinancingRate float64
	// MortgageRate — месячная ставка ипотеки (bank_flip), по умолчанию 0.02
	MortgageRate float64
	// MortgageLTV — доля ипотеки в цене покупки, по умолчанию 0.8
	MortgageLTV float64

	// RenovationCost — стоимость ремонта; 0 означает "взять из конфигурации"
	RenovationCost float64
}

// InvestmentResult — результат инверсии цены: максимальная цена входа
// и разбор сделки по статьям.
type InvestmentResult struct {
	ProjectType ProjectType

	InterestPrice       float64
	InterestPricePerSqm float64

	SalePrice      float64
	FinalSalePrice float64
	FixedCosts     float64
	TotalInvested  float64

	ExpectedProfit    float64
	OurProfit         float64
	PartnerProfit     float64
	ProfitRate        float64
	MonthlyProfitRate float64

	// Breakdown — каждая статья расчёта для аудита
	Breakdown map[string]float64
}
