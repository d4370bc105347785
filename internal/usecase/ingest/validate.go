package ingest

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/kailas-cloud/recdex/internal/domain"
	"github.com/kailas-cloud/recdex/internal/domain/item"
)

// requiredFields must be present in every source record.
var requiredFields = []string{
	item.FieldID,
	item.FieldName,
	item.FieldEffects,
	item.FieldIngredients,
	item.FieldDescription,
}

// tagPresent fails only for absent or null values, so zero values such as
// id 0 or an empty description are accepted.
const tagPresent = "present"

var recordRules = func() map[string]any {
	rules := make(map[string]any, len(requiredFields))
	for _, f := range requiredFields {
		rules[f] = tagPresent
	}
	return rules
}()

// newRecordValidator returns a validator that understands recordRules.
func newRecordValidator() (*validator.Validate, error) {
	v := validator.New()
	// Absent and nil map values never reach the func: the validator reports them
	// under the tag before calling it.
	if err := v.RegisterValidation(tagPresent, func(validator.FieldLevel) bool { return true }); err != nil {
		return nil, fmt.Errorf("register %q rule: %w", tagPresent, err)
	}
	return v, nil
}

// validateRecords collects every issue across all records; nil means the source is usable.
func validateRecords(v *validator.Validate, records []map[string]any) *domain.ValidationError {
	var issues []domain.ValidationIssue
	seen := make(map[string]int, len(records))

	for i, rec := range records {
		id, idOK := item.ToID(rec[item.FieldID])

		errs := v.ValidateMap(rec, recordRules)
		for _, f := range requiredFields {
			err, bad := errs[f]
			if !bad {
				continue
			}
			issues = append(issues, domain.ValidationIssue{
				Index:  i,
				ItemID: id,
				Field:  f,
				Reason: reason(err),
			})
		}
		if _, missing := errs[item.FieldID]; missing {
			continue
		}

		if !idOK {
			issues = append(issues, domain.ValidationIssue{
				Index:  i,
				Field:  item.FieldID,
				Reason: fmt.Sprintf("must be a non-empty string or integral number, got %T(%v)", rec[item.FieldID], rec[item.FieldID]),
			})
			continue
		}
		if first, dup := seen[id]; dup {
			issues = append(issues, domain.ValidationIssue{
				Index:  i,
				ItemID: id,
				Field:  item.FieldID,
				Reason: fmt.Sprintf("duplicate id, first seen at record %d", first),
			})
			continue
		}
		seen[id] = i
	}

	if len(issues) == 0 {
		return nil
	}
	return &domain.ValidationError{Issues: issues}
}

func reason(err any) string {
	e, ok := err.(error)
	if !ok {
		return fmt.Sprint(err)
	}
	var verrs validator.ValidationErrors
	if errors.As(e, &verrs) && len(verrs) > 0 {
		if verrs[0].Tag() == tagPresent {
			return "is missing"
		}
		return fmt.Sprintf("failed %q", verrs[0].Tag())
	}
	return e.Error()
}
