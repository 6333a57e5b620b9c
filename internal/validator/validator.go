package validator

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/pauljones0/comment-harvester/internal/models"
)

// Validator is a wrapper around the validator library.
type Validator struct {
	validate *validator.Validate
}

// New creates a new Validator instance.
func New() *Validator {
	return &Validator{
		validate: validator.New(),
	}
}

// ValidateStruct validates a struct based on its tags.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidateArtifact checks struct tags plus the invariants tags cannot
// express: unique comment ids and a total count matching the records.
func (v *Validator) ValidateArtifact(a *models.OutputArtifact) error {
	if err := v.ValidateStruct(a); err != nil {
		return err
	}
	if a.Meta.TotalCount != len(a.Comments) {
		return fmt.Errorf("validation failed: total_count %d does not match %d comments", a.Meta.TotalCount, len(a.Comments))
	}
	seen := make(map[string]struct{}, len(a.Comments))
	for _, c := range a.Comments {
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("validation failed: duplicate comment id %q", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}
