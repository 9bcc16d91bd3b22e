// Package quote composes price, fee, and slippage inputs into the Quote the
// rest of the bridge negotiates a transfer against. GetQuote is a pure
// function of its explicit inputs — no clock reads, no id generation inside
// it — so the same provider snapshot always reproduces byte-identical
// output.
package quote

import (
	"math/big"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/arcbridge/bridge-core/internal/bridgeerr"
)

// Config parameterizes fee percentages, slippage bounds, and rate
// composition weights. All percentages are fractions (0.01 == 1%).
type Config struct {
	BaseFeePct               float64
	ProtocolFeePct           float64
	SlippageProtectionFeePct float64
	OracleWeight             float64 // default 0.6
	DexWeight                float64 // default 0.4
	StandardSlippagePct      float64 // default 0.005
	MaxSlippagePct           float64 // default 0.02
	TTLSeconds               int     // default 300
	ImpactLowThresholdPct    float64 // default 0.005
	ImpactMediumThresholdPct float64 // default 0.02
}

// Inputs is everything GetQuote needs that isn't in the Request itself —
// the frozen provider snapshot a reproducibility test holds constant across
// two calls.
type Inputs struct {
	OracleRate          float64
	OracleConfidence    float64
	DexRate             float64 // zero value means "unavailable"
	DexConfidence       float64
	DexAvailable        bool
	VolatilityIndicator float64 // [0, 1]
	GasCostSourceAsset  *big.Int
	ExternalRiskHint    float64 // [0, 1], higher = riskier; 0 if unavailable
}

// Engine computes quotes against a fixed Config.
type Engine struct {
	cfg      Config
	validate *validator.Validate
}

// New constructs an Engine, filling in spec defaults for any zero-valued
// Config field.
func New(cfg Config) *Engine {
	if cfg.OracleWeight == 0 && cfg.DexWeight == 0 {
		cfg.OracleWeight, cfg.DexWeight = 0.6, 0.4
	}
	if cfg.StandardSlippagePct == 0 {
		cfg.StandardSlippagePct = 0.005
	}
	if cfg.MaxSlippagePct == 0 {
		cfg.MaxSlippagePct = 0.02
	}
	if cfg.TTLSeconds == 0 {
		cfg.TTLSeconds = 300
	}
	if cfg.ImpactLowThresholdPct == 0 {
		cfg.ImpactLowThresholdPct = 0.005
	}
	if cfg.ImpactMediumThresholdPct == 0 {
		cfg.ImpactMediumThresholdPct = 0.02
	}
	return &Engine{cfg: cfg, validate: validator.New()}
}

// GetQuote validates req, then deterministically composes id, issuedAt, and
// in into a Quote. id and issuedAt are caller-supplied (typically a fresh
// uuid and time.Now() from internal/api) precisely so the composition
// itself stays a pure function of (req, in).
func (e *Engine) GetQuote(id string, req Request, in Inputs, issuedAt time.Time) (*Quote, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, bridgeerr.New(bridgeerr.KindNonRetryable, bridgeerr.CodeInvalidRequest, err.Error(), err)
	}
	if req.FromAmount.Sign() <= 0 {
		return nil, bridgeerr.New(bridgeerr.KindNonRetryable, bridgeerr.CodeAmountOutOfBounds,
			"from_amount must be positive", nil)
	}

	rate, source, confidence := e.composeRate(in)

	toAmountFloat := new(big.Float).Mul(new(big.Float).SetInt(req.FromAmount), big.NewFloat(rate))
	toAmount, _ := toAmountFloat.Int(nil)

	fees := e.computeFees(req.FromAmount, in.GasCostSourceAsset)
	toAmountAfterFees := new(big.Int).Sub(toAmount, fees.Total)
	if toAmountAfterFees.Sign() < 0 {
		toAmountAfterFees = big.NewInt(0)
	}

	impact := e.computePriceImpact(fees.Percentage, in.ExternalRiskHint)
	slip := e.computeSlippage(in.VolatilityIndicator)

	return &Quote{
		ID:         id,
		FromToken:  req.FromToken,
		ToToken:    req.ToToken,
		FromAmount: req.FromAmount,
		ToAmount:   toAmountAfterFees,
		Fees:       fees,
		ExchangeRate: ExchangeRate{
			Rate:                rate,
			Source:              source,
			Confidence:          confidence,
			VolatilityIndicator: in.VolatilityIndicator,
		},
		PriceImpact: impact,
		Slippage:    slip,
		IssuedAt:    issuedAt,
		ExpiresAt:   issuedAt.Add(time.Duration(e.cfg.TTLSeconds) * time.Second),
	}, nil
}

func (e *Engine) composeRate(in Inputs) (rate float64, source string, confidence float64) {
	if !in.DexAvailable {
		return in.OracleRate, "oracle", in.OracleConfidence
	}
	totalWeight := e.cfg.OracleWeight + e.cfg.DexWeight
	rate = (in.OracleRate*e.cfg.OracleWeight + in.DexRate*e.cfg.DexWeight) / totalWeight
	confidence = (in.OracleConfidence*e.cfg.OracleWeight + in.DexConfidence*e.cfg.DexWeight) / totalWeight
	return rate, "oracle+dex", confidence
}

func (e *Engine) computeFees(fromAmount, gasCost *big.Int) FeeBreakdown {
	base := pctOf(fromAmount, e.cfg.BaseFeePct)
	protocol := pctOf(fromAmount, e.cfg.ProtocolFeePct)
	slippageProtection := pctOf(fromAmount, e.cfg.SlippageProtectionFeePct)
	gas := gasCost
	if gas == nil {
		gas = big.NewInt(0)
	}

	total := new(big.Int).Add(base, protocol)
	total.Add(total, slippageProtection)
	total.Add(total, gas)

	pct := 0.0
	if fromAmount.Sign() > 0 {
		totalF := new(big.Float).SetInt(total)
		fromF := new(big.Float).SetInt(fromAmount)
		pctF := new(big.Float).Quo(totalF, fromF)
		pct, _ = pctF.Float64()
	}

	return FeeBreakdown{
		Base: base, Protocol: protocol, SlippageProtection: slippageProtection, Gas: gas,
		Total: total, Percentage: pct,
	}
}

func pctOf(amount *big.Int, pct float64) *big.Int {
	f := new(big.Float).Mul(new(big.Float).SetInt(amount), big.NewFloat(pct))
	out, _ := f.Int(nil)
	return out
}

func (e *Engine) computePriceImpact(feePct float64, riskHint float64) PriceImpact {
	var category ImpactCategory
	switch {
	case feePct < e.cfg.ImpactLowThresholdPct:
		category = ImpactLow
	case feePct <= e.cfg.ImpactMediumThresholdPct:
		category = ImpactMedium
	default:
		category = ImpactHigh
	}

	recommendation := RecommendProceed
	switch {
	case category == ImpactHigh || riskHint >= 0.9:
		recommendation = RecommendBlock
	case category == ImpactMedium || riskHint >= 0.5:
		recommendation = RecommendWarn
	}

	return PriceImpact{Percentage: feePct, Category: category, Recommendation: recommendation}
}

func (e *Engine) computeSlippage(volatility float64) Slippage {
	recommended := e.cfg.StandardSlippagePct + volatility*(e.cfg.MaxSlippagePct-e.cfg.StandardSlippagePct)
	if recommended > e.cfg.MaxSlippagePct {
		recommended = e.cfg.MaxSlippagePct
	}
	if recommended < 0 {
		recommended = 0
	}

	var level ProtectionLevel
	switch {
	case volatility < 0.33:
		level = ProtectionRelaxed
	case volatility < 0.66:
		level = ProtectionStandard
	default:
		level = ProtectionStrict
	}

	return Slippage{
		Recommended:     recommended,
		Maximum:         e.cfg.MaxSlippagePct,
		ProtectionLevel: level,
		TimeoutSeconds:  e.cfg.TTLSeconds,
	}
}
