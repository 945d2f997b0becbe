package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{4,15}$`)

var (
	setupOnce  sync.Once
	setupErr   error
	translator ut.Translator
)

// Setup configures gin's binding validator: json tag names in errors, English
// messages and the custom "phone" rule. Safe to call more than once.
func Setup() error {
	setupOnce.Do(func() {
		validate, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			setupErr = errors.New("gin binding validator is not go-playground/validator")
			return
		}
		translator, setupErr = Register(validate)
	})
	return setupErr
}

// Register installs the tag name func, translations and custom rules on v.
func Register(v *validator.Validate) (ut.Translator, error) {
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		tag := field.Tag.Get("json")
		if tag == "" {
			return field.Name
		}
		name := strings.SplitN(tag, ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	english := en.New()
	uni := ut.New(english, english)
	trans, _ := uni.GetTranslator("en")

	if err := enTranslations.RegisterDefaultTranslations(v, trans); err != nil {
		return nil, fmt.Errorf("register default translations: %w", err)
	}

	if err := v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	}); err != nil {
		return nil, fmt.Errorf("register phone rule: %w", err)
	}

	err := v.RegisterTranslation("phone", trans,
		func(ut ut.Translator) error {
			return ut.Add("phone", "{0} must be a phone number of 4-15 digits, optionally prefixed with +", true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			msg, _ := ut.T("phone", fe.Field())
			return msg
		},
	)
	if err != nil {
		return nil, fmt.Errorf("register phone translation: %w", err)
	}

	return trans, nil
}

// Translate turns validator errors into a field -> message map.
// ok is false when err is not a validation failure (e.g. malformed JSON).
func Translate(err error) (map[string]string, bool) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, false
	}
	_ = Setup()

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		if translator != nil {
			out[fe.Field()] = fe.Translate(translator)
		} else {
			out[fe.Field()] = fe.Error()
		}
	}
	return out, true
}

// IsPhone reports whether s looks like a phone number we accept.
func IsPhone(s string) bool {
	return phonePattern.MatchString(s)
}
