package render

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/weatherapi/internal/models"
)

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	_ = validate.RegisterValidation("role", validateRole)
	_ = validate.RegisterValidation("units", validateUnits)

	// Return on 'TagName' json tag instead of struct name
	// Look at documentation of 'RegisterTagNameFunc' for more details
	validate.RegisterTagNameFunc(useJSONTagNames)

	return validate
}

func useJSONTagNames(fld reflect.StructField) string {
	tag := fld.Tag.Get("json")
	if tag == "" {
		tag = fld.Tag.Get("query")
	}

	name := strings.SplitN(tag, ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

func validateRole(fl validator.FieldLevel) bool {
	return models.IsValidRole(fl.Field().String())
}

func validateUnits(fl validator.FieldLevel) bool {
	return models.IsValidUnits(fl.Field().String())
}
