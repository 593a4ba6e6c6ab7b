package utils

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxRoomNameLength    = 100
	MaxDescriptionLength = 500
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator provides validation methods
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// AddError adds a validation error
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, &ValidationError{
		Field:   field,
		Message: message,
	})
}

// Errors returns all validation errors
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

// HasErrors returns true if there are any validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Required checks if a string is not empty
func (v *Validator) Required(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "此欄位為必填")
		return false
	}
	return true
}

// MaxLength checks if a string doesn't exceed maximum length
func (v *Validator) MaxLength(field, value string, max int) bool {
	if utf8.RuneCountInString(value) > max {
		v.AddError(field, "長度不能超過 "+strconv.Itoa(max)+" 個字元")
		return false
	}
	return true
}

// ValidateRoomName validates a room name
func (v *Validator) ValidateRoomName(field, value string) bool {
	if !v.Required(field, value) {
		return false
	}
	if utf8.RuneCountInString(value) > MaxRoomNameLength {
		v.AddError(field, "放映室名稱不能超過 100 個字元")
		return false
	}
	return true
}

// ValidateDescription validates an optional room description
func (v *Validator) ValidateDescription(field, value string) bool {
	return v.MaxLength(field, value, MaxDescriptionLength)
}

// ValidateCapacity checks 1 <= value <= max
func (v *Validator) ValidateCapacity(field string, value, max int) bool {
	if value <= 0 {
		v.AddError(field, "必須是正整數")
		return false
	}
	if value > max {
		v.AddError(field, "不能超過 "+strconv.Itoa(max))
		return false
	}
	return true
}

// ValidateUUID accepts only the canonical 36-character hyphenated form
func ValidateUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// SanitizeString removes potentially dangerous characters
func SanitizeString(s string) string {
	// Remove null bytes and control characters
	s = strings.Map(func(r rune) rune {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
