package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func recipeValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()

		// Report fields by their JSON names so errors match the request body.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		validate.RegisterStructValidation(func(sl validator.StructLevel) {
			meta := sl.Current().Interface().(RecipeMeta)
			if meta.FPS < 1 || meta.DurationSec <= 0 {
				return // field rules already report these
			}
			if expected := meta.ExpectedFrames(); meta.TotalFrames != expected {
				sl.ReportError(meta.TotalFrames, "totalFrames", "TotalFrames", "eqceil", fmt.Sprint(expected))
			}
		}, RecipeMeta{})
	})
	return validate
}

// DecodeRecipe reads a recipe from JSON. Effect settings missing from the
// body keep their defaults.
func DecodeRecipe(r io.Reader) (*Recipe, error) {
	recipe := &Recipe{Effects: DefaultEffectConfig()}
	if err := json.NewDecoder(r).Decode(recipe); err != nil {
		return nil, fmt.Errorf("failed to decode recipe: %w", err)
	}
	return recipe, nil
}

// Validate checks the recipe before it is queued. It returns a
// *ValidationError listing every rejected field.
func (r *Recipe) Validate() error {
	if r == nil {
		return &ValidationError{Fields: []FieldError{{Field: "recipe", Rule: "required"}}}
	}

	err := recipeValidator().Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate recipe: %w", err)
	}

	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field: strings.TrimPrefix(fe.Namespace(), "Recipe."),
			Rule:  fe.Tag(),
			Param: fe.Param(),
		})
	}
	return out
}
