// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

// Package validation provides struct validation using go-playground/validator v10.
// A thread-safe singleton instance caches struct metadata; ValidateStruct
// translates field errors into messages suitable for logs and API responses.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is a single field validation failure.
type FieldError struct {
	field   string
	tag     string
	param   string
	message string
}

// Field returns the struct field that failed.
func (e *FieldError) Field() string { return e.field }

// Tag returns the validation tag that failed.
func (e *FieldError) Tag() string { return e.tag }

// Param returns the tag parameter, e.g. "1" for "min=1".
func (e *FieldError) Param() string { return e.param }

func (e *FieldError) Error() string { return e.message }

// StructError is a collection of field failures from one struct.
type StructError struct {
	errors []FieldError
}

// Errors returns the individual field failures.
func (se *StructError) Errors() []FieldError { return se.errors }

func (se *StructError) Error() string {
	if len(se.errors) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(se.errors))
	for i, e := range se.errors {
		msgs[i] = e.message
	}
	return strings.Join(msgs, "; ")
}

// GetValidator returns the singleton validator instance.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct validates a struct using the singleton validator.
// Returns nil on success, *StructError on failure.
func ValidateStruct(s interface{}) *StructError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &StructError{errors: []FieldError{{
			field:   "unknown",
			tag:     "unknown",
			message: err.Error(),
		}}}
	}

	fieldErrors := make([]FieldError, len(verrs))
	for i, fe := range verrs {
		fieldErrors[i] = FieldError{
			field:   fe.Field(),
			tag:     fe.Tag(),
			param:   fe.Param(),
			message: translateError(fe),
		}
	}
	return &StructError{errors: fieldErrors}
}

var simpleTemplates = map[string]string{
	"required": "%s is required",
	"oneof":    "%s has an unsupported value",
	"url":      "%s must be a valid URL",
	"uuid":     "%s must be a valid UUID",
}

var paramTemplates = map[string]string{
	"gte": "%s must be greater than or equal to %s",
	"lte": "%s must be less than or equal to %s",
	"gt":  "%s must be greater than %s",
	"lt":  "%s must be less than %s",
	"min": "%s must be at least %s",
	"max": "%s must be at most %s",
}

func translateError(fe validator.FieldError) string {
	field := fe.Field()
	if t, ok := simpleTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(t, field)
	}
	if t, ok := paramTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(t, field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
