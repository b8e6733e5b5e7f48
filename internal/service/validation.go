package service

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	Categories    = []string{"technology", "business", "health", "finance", "education", "lifestyle"}
	WritingStyles = []string{"informative", "conversational", "technical", "professional", "academic", "creative"}
	Languages     = []string{"en", "es", "fr", "de", "it", "pt"}
)

// CreateBookRequest is the payload for POST /books/generate.
type CreateBookRequest struct {
	Title              string   `json:"title" validate:"required"`
	Category           string   `json:"category" validate:"required,oneof=technology business health finance education lifestyle"`
	TargetAudience     string   `json:"target_audience" validate:"required"`
	WritingStyle       string   `json:"writing_style" validate:"required,oneof=informative conversational technical professional academic creative"`
	ChapterCount       int      `json:"chapter_count" validate:"gte=3,lte=20"`
	TargetLength       int      `json:"target_length" validate:"gte=5000,lte=50000,step=1000"`
	Language           string   `json:"language" validate:"required,oneof=en es fr de it pt"`
	CustomRequirements string   `json:"custom_requirements"`
	OutputFormats      []string `json:"output_formats" validate:"required,min=1,dive,oneof=txt md json"`
}

// NewCreateBookRequest fills every field except title and audience with the
// form defaults.
func NewCreateBookRequest(title, audience string) CreateBookRequest {
	return CreateBookRequest{
		Title:          title,
		Category:       "technology",
		TargetAudience: audience,
		WritingStyle:   "informative",
		ChapterCount:   8,
		TargetLength:   15000,
		Language:       "en",
		OutputFormats:  append([]string(nil), DownloadFormats...),
	}
}

// Normalized trims free text and lowercases enum fields.
func (r CreateBookRequest) Normalized() CreateBookRequest {
	r.Title = strings.TrimSpace(r.Title)
	r.TargetAudience = strings.TrimSpace(r.TargetAudience)
	r.CustomRequirements = strings.TrimSpace(r.CustomRequirements)
	r.Category = strings.ToLower(strings.TrimSpace(r.Category))
	r.WritingStyle = strings.ToLower(strings.TrimSpace(r.WritingStyle))
	r.Language = strings.ToLower(strings.TrimSpace(r.Language))
	formats := make([]string, 0, len(r.OutputFormats))
	for _, format := range r.OutputFormats {
		formats = append(formats, strings.ToLower(strings.TrimSpace(format)))
	}
	r.OutputFormats = formats
	return r
}

// ValidationError maps json field names to readable messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, e.Fields[key])
	}
	return "invalid request: " + strings.Join(parts, " ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("step", validateStep)
	return v
}

// validateStep requires an integer field to be a multiple of the tag parameter.
func validateStep(fl validator.FieldLevel) bool {
	step, err := strconv.ParseInt(fl.Param(), 10, 64)
	if err != nil || step <= 0 {
		return false
	}
	switch fl.Field().Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fl.Field().Int()%step == 0
	default:
		return false
	}
}

var errorMessages = map[string]string{
	"required": "The field '%s' is required.",
	"min":      "The field '%s' needs at least %s entries.",
	"lte":      "The field '%s' must be less than or equal to %s.",
	"gte":      "The field '%s' must be greater than or equal to %s.",
	"oneof":    "The field '%s' must be one of [%s].",
	"step":     "The field '%s' must be a multiple of %s.",
}

func parseMessage(field string, e validator.FieldError) string {
	msg, ok := errorMessages[e.Tag()]
	if !ok {
		return fmt.Sprintf("Field '%s' is invalid: %s", field, e.Tag())
	}
	if strings.Count(msg, "%s") == 2 {
		return fmt.Sprintf(msg, field, e.Param())
	}
	return fmt.Sprintf(msg, field)
}

// ValidateCreateRequest returns a *ValidationError or nil.
func ValidateCreateRequest(req CreateBookRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("validate request: %w", err)
	}
	fields := make(map[string]string, len(validationErrs))
	for _, e := range validationErrs {
		fields[e.Field()] = parseMessage(e.Field(), e)
	}
	return &ValidationError{Fields: fields}
}
