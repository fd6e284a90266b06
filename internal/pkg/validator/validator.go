package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	// Subscription plan
	validate.RegisterValidation("plan", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "pro", "business":
			return true
		}
		return false
	})

	// Dotted analysis path: non-empty segments separated by dots
	validate.RegisterValidation("dotted_path", func(fl validator.FieldLevel) bool {
		path := fl.Field().String()
		if path == "" {
			return true
		}
		for _, seg := range strings.Split(path, ".") {
			if seg == "" {
				return false
			}
		}
		return true
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	errors := make(map[string]string)
	for _, err := range err.(validator.ValidationErrors) {
		field := err.Field()
		switch err.Tag() {
		case "required", "required_without":
			errors[field] = "This field is required"
		case "min":
			errors[field] = "Value is too short (min: " + err.Param() + ")"
		case "max":
			errors[field] = "Value is too long (max: " + err.Param() + ")"
		case "gte":
			errors[field] = "Value must be at least " + err.Param()
		case "lte":
			errors[field] = "Value must be at most " + err.Param()
		case "url":
			errors[field] = "Invalid URL format"
		case "uuid":
			errors[field] = "Invalid UUID"
		case "oneof":
			errors[field] = "Must be one of: " + err.Param()
		case "plan":
			errors[field] = "Invalid plan. Must be: pro or business"
		case "dotted_path":
			errors[field] = "Invalid path. Use dot-separated keys, e.g. materials.0.name"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}
