// Package convert turns raw client payloads into validated app forms.
package convert

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/go-playground/validator/v10"

	"github.com/and161185/appshelf/internal/errs"
	"github.com/and161185/appshelf/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateForm checks struct tags on f. Failures wrap errs.ErrValidation.
func ValidateForm(f model.AppForm) error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	return nil
}

// ImportForm builds the form for one imported item.
//
// Missing meta/params are replaced by empty documents before merging, so an
// import without them resets those fields on an existing app. When existing is
// non-nil, raw keys override its fields; otherwise raw alone is decoded.
func ImportForm(existing *model.App, raw map[string]any) (model.AppForm, error) {
	item := maps.Clone(raw)
	if item == nil {
		item = map[string]any{}
	}
	if _, ok := item["meta"]; !ok {
		item["meta"] = map[string]any{}
	}
	if _, ok := item["params"]; !ok {
		item["params"] = map[string]any{}
	}

	merged := item
	if existing != nil {
		base, err := toDoc(existing.Form())
		if err != nil {
			return model.AppForm{}, err
		}
		maps.Copy(base, item)
		merged = base
	}

	b, err := json.Marshal(merged)
	if err != nil {
		return model.AppForm{}, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	var f model.AppForm
	if err := json.Unmarshal(b, &f); err != nil {
		return model.AppForm{}, fmt.Errorf("%w: item %v: %v", errs.ErrValidation, raw["id"], err)
	}
	if err := ValidateForm(f); err != nil {
		return model.AppForm{}, err
	}
	return f, nil
}

func toDoc(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
