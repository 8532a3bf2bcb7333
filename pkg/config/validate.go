package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/usenetsync/usenetsync/pkg/nntp"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for consistency.
//
// Struct tags cover field-level ranges; cross-field rules are checked
// explicitly below.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			e := errs[0]
			return fmt.Errorf("invalid value for %s: failed %q constraint", e.Namespace(), e.Tag())
		}
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if s := nntp.Strategy(cfg.NNTP.Strategy); !s.IsValid() {
		return fmt.Errorf("nntp: unknown strategy %q", cfg.NNTP.Strategy)
	}

	seen := make(map[string]struct{}, len(cfg.NNTP.Servers))
	for _, srv := range cfg.NNTP.Servers {
		addr := srv.Addr()
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("nntp: duplicate server %s", addr)
		}
		seen[addr] = struct{}{}
	}

	if cfg.Retry.InitialDelayS > cfg.Retry.MaxDelayS {
		return fmt.Errorf("retry: initial_delay_s (%d) exceeds max_delay_s (%d)",
			cfg.Retry.InitialDelayS, cfg.Retry.MaxDelayS)
	}

	return nil
}
