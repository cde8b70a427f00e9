package core

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	// custom validation tags & texts
	admissionNoTag   = "admission_no"
	admissionNoText  = "only letters, digits, '/', '-' and '_' are allowed (max 32)"
	admissionNoRegex = regexp.MustCompile(`^[A-Za-z0-9/_-]{1,32}$`)

	termNameTag  = "term_name"
	termNameText = "must be one of 1st, 2nd or 3rd"

	datetimeTag  = "datetime"
	datetimeText = "must be a date formatted as YYYY-MM-DD"

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = "this field is required"

	// TermNames are the accepted names of the terms of a session, in order.
	TermNames = []string{"1st", "2nd", "3rd"}
)

// NewValidator returns a validator with the english translator and every custom validator registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	validate := validator.New()
	InitValidators(validate, translator)
	return validate, translator
}

// InitValidators instantiates the validator for use.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// register custom validators
	_ = validate.RegisterValidation(admissionNoTag, admissionNoValidation)
	RegisterCustomTranslation(validate, translator, admissionNoTag, admissionNoText)

	_ = validate.RegisterValidation(termNameTag, termNameValidation)
	RegisterCustomTranslation(validate, translator, termNameTag, termNameText)

	RegisterCustomTranslation(validate, translator, datetimeTag, datetimeText, true)
	RegisterCustomTranslation(validate, translator, requiredTag, requiredText, true)
	RegisterCustomTranslation(validate, translator, requiredWithTag, requiredText, true)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// TranslateValidationErrors turns validator errors into a ValidationError keyed by JSON field name.
// Other errors are returned unchanged.
func TranslateValidationErrors(err error, translator ut.Translator) error {
	vErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	flds := make([]FieldError, 0, len(vErrs))
	for _, vErr := range vErrs {
		flds = append(flds, FieldError{Field: vErr.Field(), Error: vErr.Translate(translator)})
	}
	return NewValidationError(nil, flds...)
}

// Custom Global Validators

func admissionNoValidation(fl validator.FieldLevel) bool {
	return admissionNoRegex.MatchString(fl.Field().String())
}

func termNameValidation(fl validator.FieldLevel) bool {
	return IsTermName(fl.Field().String())
}

func IsTermName(name string) bool {
	for _, n := range TermNames {
		if n == name {
			return true
		}
	}
	return false
}
