// Package bind decodes JSON request bodies and validates them with struct tags
package bind

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	perr "shinga/internal/platform/errors"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entrans "github.com/go-playground/validator/v10/translations/en"
)

// StructLevel aliases validator.StructLevel for struct level rules
type StructLevel = validator.StructLevel

// Options tunes ParseJSON
type Options struct {
	// MaxBytes caps the body, default 64KiB
	MaxBytes int64
	// AllowUnknown accepts fields the target type does not declare
	AllowUnknown bool
}

var (
	once     sync.Once
	validate *validator.Validate
	trans    ut.Translator
)

func engine() (*validator.Validate, ut.Translator) {
	once.Do(func() {
		loc := en.New()
		trans, _ = ut.New(loc, loc).GetTranslator("en")

		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			switch name {
			case "-":
				return ""
			case "":
				return f.Name
			}
			return name
		})
		_ = entrans.RegisterDefaultTranslations(validate, trans)
	})
	return validate, trans
}

// RegisterStructValidation adds a struct level rule for each of types.
// msg is the translated text for tag; {0} is replaced by the field name
func RegisterStructValidation(fn func(StructLevel), tag, msg string, types ...any) {
	v, tr := engine()
	v.RegisterStructValidation(validator.StructLevelFunc(fn), types...)
	_ = v.RegisterTranslation(tag, tr,
		func(t ut.Translator) error { return t.Add(tag, msg, true) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// Validate checks v's tags; the first failure becomes a Validation error naming its field
func Validate(v any) error {
	val, tr := engine()
	err := val.Struct(v)
	if err == nil {
		return nil
	}
	var fes validator.ValidationErrors
	if !errors.As(err, &fes) || len(fes) == 0 {
		return perr.Wrapf(err, perr.ErrorCodeJSON, "cannot validate %T", v)
	}
	fe := fes[0]
	return perr.WithField(perr.New(perr.ErrorCodeValidation, fe.Translate(tr)), fe.Field())
}

// ParseJSON reads exactly one JSON value of type T from the body and validates it
func ParseJSON[T any](r *http.Request, opts ...Options) (T, error) {
	var zero, dst T
	o := Options{MaxBytes: 64 << 10}
	if len(opts) > 0 {
		o = opts[0]
		if o.MaxBytes <= 0 {
			o.MaxBytes = 64 << 10
		}
	}
	if r.Body == nil {
		return zero, perr.JSONErrf("empty body")
	}
	body := http.MaxBytesReader(nil, r.Body, o.MaxBytes)
	defer body.Close()

	dec := json.NewDecoder(body)
	if !o.AllowUnknown {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&dst); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return zero, perr.JSONErrf("empty body")
		case errors.As(err, &tooBig):
			return zero, perr.JSONErrf("body exceeds %d bytes", tooBig.Limit)
		}
		return zero, perr.JSONErrf("invalid JSON: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return zero, perr.JSONErrf("unexpected data after the JSON body")
	}
	if err := Validate(dst); err != nil {
		return zero, err
	}
	return dst, nil
}
