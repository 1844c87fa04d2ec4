package engine

import (
	"time"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
)

// Config bounds a screening run
type Config struct {
	// SourceTimeout caps each screener call.
	SourceTimeout time.Duration `mapstructure:"source_timeout" validate:"gt=0"`
	// BasicTimeout and ComprehensiveTimeout cap the whole fan-out per mode.
	BasicTimeout         time.Duration `mapstructure:"basic_timeout" validate:"gt=0"`
	ComprehensiveTimeout time.Duration `mapstructure:"comprehensive_timeout" validate:"gt=0"`
	// RequiredSources fail the screening when they are fully unavailable.
	RequiredSources []aml.SourceKind `mapstructure:"required_sources" validate:"dive,oneof=sanctions pep adverse_media wallet_risk"`
	HistoryLimit    int              `mapstructure:"history_limit" validate:"gte=0"`
}

// DefaultConfig gives each source 3s inside a 5s basic or 10s comprehensive ceiling.
func DefaultConfig() Config {
	return Config{
		SourceTimeout:        3 * time.Second,
		BasicTimeout:         5 * time.Second,
		ComprehensiveTimeout: 10 * time.Second,
		HistoryLimit:         50,
	}
}

func (c Config) ceiling(mode aml.ScreeningMode) time.Duration {
	if mode == aml.ModeBasic {
		return c.BasicTimeout
	}
	return c.ComprehensiveTimeout
}
