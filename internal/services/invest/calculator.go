package invest

import (
	"fmt"

	"flat_appraisal/internal/config"
	"flat_appraisal/internal/domain"
	"log/slog"
)

// Calculator — инверсия цены: по рыночной цене и целевой доходности
// считает максимальную цену входа в сделку. Чистый расчёт без ввода-вывода.
type Calculator struct {
	log *slog.Logger
	cfg config.InvestConfig
}

func New(log *slog.Logger, cfg config.InvestConfig) *Calculator {
	return &Calculator{log: log, cfg: cfg}
}

// Calculate — расчёт по одной из четырёх моделей проекта.
// Ремонт и прораб не входят в цену интереса: ремонт двигает цену продажи.
func (c *Calculator) Calculate(in domain.InvestmentInput) (domain.InvestmentResult, error) {
	const op = "invest.Calculator.Calculate"

	if _, err := domain.ParseProjectType(string(in.ProjectType)); err != nil {
		return domain.InvestmentResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if in.MarketPrice <= 0 {
		return domain.InvestmentResult{}, fmt.Errorf("%s: market price must be positive: %w", op, domain.ErrInvalidInput)
	}
	if in.Toggles.Financing && (in.FinancingRate < 0 || in.FinancingRate >= 1) {
		return domain.InvestmentResult{}, fmt.Errorf("%s: financing rate %v outside [0, 1): %w", op, in.FinancingRate, domain.ErrInvalidInput)
	}

	c.applyDefaults(&in)

	breakdown := map[string]float64{}

	salePrice := in.MarketPrice * (1 - in.Bargain)
	afterTax := 1 - in.TaxRate
	targetRate := in.MonthlyRate * float64(in.ProjectMonths)
	if in.ProjectType == domain.ProjectTypeBankFlip {
		// Инверсия под ипотечным плечом идёт от фиксированной целевой ставки
		targetRate = c.cfg.BankFlipTargetRate
	}

	breakdown["market_price"] = in.MarketPrice
	breakdown["sale_price"] = salePrice
	breakdown["after_tax_rate"] = afterTax
	breakdown["target_rate"] = targetRate

	fixedNoReno := c.fixedCostsNoReno(in, breakdown)

	interestPrice := invert(salePrice, afterTax, targetRate, fixedNoReno)

	// Привлечённое финансирование: надбавка зависит от цены интереса,
	// поэтому второй проход с доначисленной статьёй
	if in.Toggles.Financing && in.FinancingRate > 0 {
		surcharge := interestPrice * in.FinancingRate / (1 - in.FinancingRate)
		breakdown["financing_surcharge"] = surcharge
		fixedNoReno += surcharge
		interestPrice = invert(salePrice, afterTax, targetRate, fixedNoReno)
	}

	// Ипотечные статьи тоже пропорциональны цене интереса: второй проход
	var mortgageAmount float64
	if in.ProjectType == domain.ProjectTypeBankFlip {
		mortgageAmount = interestPrice * in.MortgageLTV
		mortgageInterest := mortgageAmount * in.MortgageRate * float64(in.ProjectMonths)
		issueFee := mortgageAmount * c.cfg.MortgageIssueFee

		breakdown["mortgage_amount"] = mortgageAmount
		breakdown["mortgage_interest"] = mortgageInterest
		breakdown["mortgage_issue_fee"] = issueFee

		fixedNoReno += mortgageInterest + issueFee
		interestPrice = invert(salePrice, afterTax, targetRate, fixedNoReno)

		mortgageAmount = interestPrice * in.MortgageLTV
		breakdown["mortgage_amount"] = mortgageAmount
		breakdown["prepayment"] = interestPrice - mortgageAmount
	}

	breakdown["fixed_costs"] = fixedNoReno
	breakdown["interest_price"] = interestPrice

	if interestPrice <= 0 {
		c.log.Warn("costs exceed target",
			slog.String("project_type", in.ProjectType.String()),
			slog.Float64("interest_price", interestPrice),
		)
		return domain.InvestmentResult{}, fmt.Errorf("%s: %w", op, &domain.CostsExceedTargetError{
			InterestPrice: interestPrice,
			Breakdown:     breakdown,
		})
	}

	// Сторона продажи: ремонт поднимает цену выхода, но не цену входа
	finalSale := salePrice
	var renovationCost, renovationPremium float64
	if in.Toggles.Renovation {
		renovationCost = in.RenovationCost
		renovationPremium = renovationCost * in.RenovationMarkup
		finalSale = salePrice + renovationPremium
		breakdown["renovation_cost"] = renovationCost
		breakdown["renovation_premium"] = renovationPremium
	}
	if in.Toggles.Foreman {
		breakdown["foreman"] = c.cfg.CostForeman
	}
	breakdown["final_sale_price"] = finalSale

	allCosts := fixedNoReno + renovationCost
	if in.Toggles.Foreman {
		allCosts += c.cfg.CostForeman
	}

	// Вложенный капитал: для bank_flip тело ипотеки — не наши деньги
	totalInvested := interestPrice + allCosts - mortgageAmount
	expectedProfit := finalSale*afterTax - (interestPrice + allCosts)

	ourProfit, partnerProfit := c.splitProfit(in, expectedProfit, totalInvested, renovationCost)

	profitRate := 0.0
	monthlyRate := 0.0
	if totalInvested > 0 {
		profitRate = ourProfit / totalInvested
		if in.ProjectMonths > 0 {
			monthlyRate = profitRate / float64(in.ProjectMonths)
		}
	}

	breakdown["total_invested"] = totalInvested
	breakdown["expected_profit"] = expectedProfit
	breakdown["our_profit"] = ourProfit
	breakdown["partner_profit"] = partnerProfit

	res := domain.InvestmentResult{
		ProjectType:       in.ProjectType,
		InterestPrice:     interestPrice,
		SalePrice:         salePrice,
		FinalSalePrice:    finalSale,
		FixedCosts:        fixedNoReno,
		TotalInvested:     totalInvested,
		ExpectedProfit:    expectedProfit,
		OurProfit:         ourProfit,
		PartnerProfit:     partnerProfit,
		ProfitRate:        profitRate,
		MonthlyProfitRate: monthlyRate,
		Breakdown:         breakdown,
	}
	if in.AreaTotal > 0 {
		res.InterestPricePerSqm = interestPrice / in.AreaTotal
	}
	return res, nil
}

// invert — ядро модели: цена входа, при которой продажа после налога
// покрывает вход, расходы и целевую доходность на вложенное.
func invert(salePrice, afterTax, targetRate, fixedCosts float64) float64 {
	return (salePrice*afterTax - fixedCosts*(1+targetRate)) / (afterTax + targetRate)
}

// fixedCostsNoReno — сумма включённых статей, кроме ремонта и прораба.
// Каждая включённая статья попадает в разбор под своим именем.
func (c *Calculator) fixedCostsNoReno(in domain.InvestmentInput, breakdown map[string]float64) float64 {
	var sum float64
	add := func(enabled bool, name string, cost float64) {
		if !enabled {
			return
		}
		breakdown[name] = cost
		sum += cost
	}

	add(in.Toggles.Notary, "notary", c.cfg.CostNotary)
	add(in.Toggles.StateFee, "state_fee", c.cfg.CostStateFee)
	add(in.Toggles.PIP, "pip", c.cfg.CostPIP)
	add(in.Toggles.Agency, "agency", c.cfg.CostAgency)
	add(in.Toggles.Utilities, "utilities", c.cfg.CostUtilities)
	add(in.Toggles.Eviction, "eviction", c.cfg.CostEviction)
	add(in.Toggles.RegistratorsTransfer, "registrators_transfer", c.cfg.CostRegistratorsTransfer)
	add(in.Toggles.RegistratorsMortgage, "registrators_mortgage", c.cfg.CostRegistratorsMortgage)
	add(in.Toggles.ConturRegistration, "contur_registration", c.cfg.CostConturRegistration)

	return sum
}

// splitProfit — раздел прибыли по модели проекта.
// Партнёрские модели: 50/50, но не меньше нашего минимума;
// остаток партнёру, возможно нулевой.
func (c *Calculator) splitProfit(in domain.InvestmentInput, expectedProfit, totalInvested, renovationCost float64) (our, partner float64) {
	if in.ProjectType == domain.ProjectTypeOwn {
		return expectedProfit, 0
	}

	splitBase := expectedProfit

	// В bank_flip прибыль от ремонта достаётся нашей стороне до раздела
	var renoProfit float64
	if in.ProjectType == domain.ProjectTypeBankFlip && in.Toggles.Renovation {
		renoProfit = renovationCost * (in.RenovationMarkup - 1)
		if renoProfit > splitBase {
			renoProfit = splitBase
		}
		splitBase -= renoProfit
	}

	half := splitBase / 2

	minimum := c.cfg.PartnerMinMonthlyRate * float64(in.ProjectMonths) * totalInvested
	if in.ProjectMonths < 3 && minimum < c.cfg.PartnerMinProfit {
		minimum = c.cfg.PartnerMinProfit
	}

	if half < minimum {
		our = minimum
		partner = splitBase - minimum
		if partner < 0 {
			partner = 0
		}
	} else {
		our = half
		partner = splitBase - half
	}

	return our + renoProfit, partner
}

// applyDefaults — нулевые числовые поля замещаются конфигурацией.
func (c *Calculator) applyDefaults(in *domain.InvestmentInput) {
	if in.Bargain == 0 {
		in.Bargain = c.cfg.Bargain
	}
	if in.MonthlyRate == 0 {
		in.MonthlyRate = c.cfg.MonthlyRate
	}
	if in.ProjectMonths == 0 {
		in.ProjectMonths = c.cfg.ProjectMonths
	}
	if in.TaxRate == 0 {
		in.TaxRate = c.cfg.TaxRate
	}
	if in.RenovationMarkup == 0 {
		in.RenovationMarkup = c.cfg.RenovationMarkup
	}
	if in.MortgageRate == 0 {
		in.MortgageRate = c.cfg.MortgageRate
	}
	if in.MortgageLTV == 0 {
		in.MortgageLTV = c.cfg.MortgageLTV
	}
	if in.RenovationCost == 0 {
		in.RenovationCost = c.cfg.CostRenovation
	}

	// Партнёрский флип подразумевает ремонт
	if in.ProjectType == domain.ProjectTypePartnerFlip {
		in.Toggles.Renovation = true
	}
}
