package strategy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"signal-trader/pkg/exchanges/common"
)

// Kind selects the signal variant.
type Kind string

const (
	KindTechnical Kind = "technical"
	KindBreakout  Kind = "breakout"
)

// TechnicalParams configures the RSI + MACD variant.
type TechnicalParams struct {
	EMAFast   int `yaml:"ema_fast" json:"ema_fast" validate:"gt=0"`
	EMASlow   int `yaml:"ema_slow" json:"ema_slow" validate:"gtfield=EMAFast"`
	EMASignal int `yaml:"ema_signal" json:"ema_signal" validate:"gt=0"`
	RSILength int `yaml:"rsi_length" json:"rsi_length" validate:"gt=1"`
}

// DefaultTechnicalParams are the classic 12/26/9 MACD and 14 period RSI.
func DefaultTechnicalParams() TechnicalParams {
	return TechnicalParams{EMAFast: 12, EMASlow: 26, EMASignal: 9, RSILength: 14}
}

// BreakoutParams configures the breakout variant.
type BreakoutParams struct {
	MinVolume float64 `yaml:"min_volume" json:"min_volume" validate:"gte=0"`
}

// Config describes one strategy instance. Exactly one of Technical and
// Breakout is set, matching Kind.
type Config struct {
	Kind       Kind             `yaml:"kind" json:"kind" validate:"oneof=technical breakout"`
	Exchange   common.Exchange  `yaml:"exchange" json:"exchange" validate:"required"`
	Symbol     string           `yaml:"symbol" json:"symbol" validate:"required"`
	Timeframe  common.Timeframe `yaml:"timeframe" json:"timeframe" validate:"required"`
	BalancePct float64          `yaml:"balance_pct" json:"balance_pct" validate:"gt=0,lte=100"`
	TakeProfit float64          `yaml:"take_profit" json:"take_profit" validate:"gte=0"`
	StopLoss   float64          `yaml:"stop_loss" json:"stop_loss" validate:"gte=0,lt=100"`

	Technical *TechnicalParams `yaml:"technical,omitempty" json:"technical,omitempty"`
	Breakout  *BreakoutParams  `yaml:"breakout,omitempty" json:"breakout,omitempty"`
}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid strategy config")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ID identifies the instance. At most one instance per contract, timeframe
// and variant runs at a time.
func (c Config) ID() string {
	return fmt.Sprintf("%s_%s_%s", c.Kind, c.Symbol, c.Timeframe)
}

// Validate checks field ranges, the timeframe and that the parameter block
// matches Kind.
func (c Config) Validate() error {
	if err := structValidator().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !c.Timeframe.SupportedOn(c.Exchange) {
		return fmt.Errorf("%w: timeframe %q is not supported on %s", ErrInvalidConfig, c.Timeframe, c.Exchange)
	}
	switch c.Kind {
	case KindTechnical:
		if c.Technical == nil || c.Breakout != nil {
			return fmt.Errorf("%w: technical strategy needs technical params only", ErrInvalidConfig)
		}
	case KindBreakout:
		if c.Breakout == nil || c.Technical != nil {
			return fmt.Errorf("%w: breakout strategy needs breakout params only", ErrInvalidConfig)
		}
	}
	return nil
}

// WithDefaults fills a missing parameter block for Kind.
func (c Config) WithDefaults() Config {
	switch c.Kind {
	case KindTechnical:
		if c.Technical == nil && c.Breakout == nil {
			p := DefaultTechnicalParams()
			c.Technical = &p
		}
	case KindBreakout:
		if c.Breakout == nil && c.Technical == nil {
			c.Breakout = &BreakoutParams{}
		}
	}
	return c
}
