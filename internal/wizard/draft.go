package wizard

import (
	"strconv"
	"strings"

	"github.com/diagnosis/chapterhub/internal/domain"
	"github.com/diagnosis/chapterhub/internal/utils"
	"github.com/diagnosis/chapterhub/pkg/validator"
)

// FileRef is a user-selected file passed through to the API untouched.
type FileRef struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Data        []byte `json:"-"`
}

// Draft holds field values: string, bool or FileRef.
type Draft map[string]any

func (d Draft) text(name string) string {
	switch v := d[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case bool:
		return strconv.FormatBool(v)
	case FileRef:
		return v.Filename
	}
	return ""
}

func (d Draft) empty(f domain.FormField) bool {
	switch v := d[f.Name].(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case bool:
		// an unticked required checkbox counts as missing
		return !v
	case FileRef:
		return len(v.Data) == 0 && v.Filename == ""
	}
	return true
}

// coerce converts a raw input to the value type the field stores.
func coerce(f domain.FormField, raw any) (any, error) {
	switch f.Type {
	case domain.FieldCheckbox:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			if strings.TrimSpace(v) == "" {
				return false, nil
			}
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, ErrInvalidValue
			}
			return b, nil
		}
		return nil, ErrInvalidValue
	case domain.FieldFile:
		// files go through AttachFile
		return nil, ErrInvalidValue
	default:
		switch v := raw.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case int:
			return strconv.Itoa(v), nil
		}
		return nil, ErrInvalidValue
	}
}

// validateDetails checks step 1 in field order and returns the first problem.
func validateDetails(fields []domain.FormField, d Draft, fallback bool) *ValidationError {
	for _, f := range fields {
		label := utils.FirstNonEmpty(f.Label, f.Name)
		if f.Required && d.empty(f) {
			return &ValidationError{Field: f.Name, Message: label + " is required"}
		}
		if d.empty(f) {
			continue
		}

		value := d.text(f.Name)
		switch {
		case f.Type == domain.FieldEmail || (fallback && f.Name == "email"):
			if !validator.Email(value) {
				return &ValidationError{Field: f.Name, Message: "Please enter a valid email address"}
			}
		case f.Type == domain.FieldNumber:
			if !validator.Number(value) {
				return &ValidationError{Field: f.Name, Message: label + " must be a number"}
			}
		case f.Type == domain.FieldSelect && len(f.Options) > 0:
			if !contains(f.Options, value) {
				return &ValidationError{Field: f.Name, Message: "Please choose a valid option for " + label}
			}
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
