package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against struct validation tags and
// cross-field rules. Missing required values refuse startup.
func Validate(cfg *Config) error {
	v := validator.New()

	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
		return err
	}

	// A lease shorter than the publish tick would let recovery steal events
	// that are still being published.
	if cfg.Outbox.StaleAfter <= cfg.Outbox.PublishInterval {
		return fmt.Errorf("outbox.stale_after (%s) must exceed outbox.publish_interval (%s)",
			cfg.Outbox.StaleAfter, cfg.Outbox.PublishInterval)
	}

	if cfg.Worker.BatchedUpserts && cfg.Worker.UpsertBatchSize < 1 {
		return fmt.Errorf("worker.upsert_batch_size must be at least 1 when batched upserts are enabled")
	}

	return nil
}

// describeFieldError renders one validation failure in config-file terms.
func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(strings.TrimPrefix(fe.Namespace(), "Config."))
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "min", "max", "gt":
		return fmt.Sprintf("%s is out of range (%s %s)", field, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
