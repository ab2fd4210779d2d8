package validation

import (
	"github.com/robfig/cron/v3"

	"github.com/cascadehq/cascade/pkg/schema"
)

// cronParser accepts standard five-field cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// validateTriggers checks trigger declarations. Delivery is handled outside
// the engine; only the declarations are validated here.
func validateTriggers(triggers []schema.TriggerDefinition) error {
	for i, trigger := range triggers {
		switch trigger.Type {
		case "schedule":
			if trigger.CronExpression == "" {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"triggers[%d]: schedule trigger requires a cron_expression", i)
			}
			if _, err := cronParser.Parse(trigger.CronExpression); err != nil {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"triggers[%d]: invalid cron expression %q: %s", i, trigger.CronExpression, err.Error()).
					WithCause(err)
			}
		case "webhook", "manual":
			// No declaration-level constraints.
		}
	}
	return nil
}
