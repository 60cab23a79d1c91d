package checkout

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/zulandar/orderbot/internal/catalog"
	"github.com/zulandar/orderbot/internal/config"
)

// MaxAnswerLength caps free-text answers.
const MaxAnswerLength = 500

var validate = validator.New()

// ValidationError is a rejected answer. The user is re-prompted for the same
// field and the session is left unchanged.
type ValidationError struct {
	FieldID string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("checkout: field %s: %s", e.FieldID, e.Reason)
}

func invalid(f catalog.Field, reason string) error {
	return &ValidationError{FieldID: f.ID, Reason: reason}
}

// Validate checks a raw answer against the field kind and returns the
// normalized value to store. Location answers may be "lat,lng" or a typed
// address.
func Validate(f catalog.Field, raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		if f.Required {
			return "", invalid(f, "an answer is required")
		}
		return "", nil
	}
	if len(v) > MaxAnswerLength {
		return "", invalid(f, fmt.Sprintf("must be at most %d characters", MaxAnswerLength))
	}

	switch f.Kind {
	case config.FieldText, "":
		return v, nil

	case config.FieldPhone:
		p := normalizePhone(v)
		tag := "numeric,min=7,max=15"
		if strings.HasPrefix(p, "+") {
			tag = "e164"
		}
		if err := validate.Var(p, tag); err != nil {
			return "", invalid(f, "please enter a valid phone number")
		}
		return p, nil

	case config.FieldNumeric:
		if err := validate.Var(v, "numeric"); err != nil {
			return "", invalid(f, "please enter a number")
		}
		return v, nil

	case config.FieldEmail:
		if err := validate.Var(v, "email"); err != nil {
			return "", invalid(f, "please enter a valid email address")
		}
		return strings.ToLower(v), nil

	case config.FieldChoice:
		for _, c := range f.Choices {
			if strings.EqualFold(c, v) {
				return c, nil
			}
		}
		return "", invalid(f, "please pick one of the listed options")

	case config.FieldLocation:
		if lat, lng, ok := ParseCoordinates(v); ok {
			return FormatCoordinates(lat, lng), nil
		}
		if err := validate.Var(v, "min=5"); err != nil {
			return "", invalid(f, "please share your location or type a full address")
		}
		return v, nil
	}
	return "", invalid(f, fmt.Sprintf("unsupported field kind %q", f.Kind))
}

// ValidateLocation accepts a shared location pin for a location field.
func ValidateLocation(f catalog.Field, lat, lng float64) (string, error) {
	if f.Kind != config.FieldLocation {
		return "", invalid(f, "a location was not expected here")
	}
	if err := validate.Var(lat, "latitude"); err != nil {
		return "", invalid(f, "invalid latitude")
	}
	if err := validate.Var(lng, "longitude"); err != nil {
		return "", invalid(f, "invalid longitude")
	}
	return FormatCoordinates(lat, lng), nil
}

// FormatCoordinates renders a coordinate pair as stored in answers.
func FormatCoordinates(lat, lng float64) string {
	return strconv.FormatFloat(lat, 'f', 6, 64) + "," + strconv.FormatFloat(lng, 'f', 6, 64)
}

// ParseCoordinates parses "lat,lng".
func ParseCoordinates(s string) (lat, lng float64, ok bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	if validate.Var(lat, "latitude") != nil || validate.Var(lng, "longitude") != nil {
		return 0, 0, false
	}
	return lat, lng, true
}

func normalizePhone(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	p := b.String()
	if strings.HasPrefix(p, "00") {
		p = "+" + p[2:]
	}
	return p
}
