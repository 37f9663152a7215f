package validator

import (
	"fmt"
	"net/mail"
	"net/netip"
	"net/url"
	"slices"
	"sync"

	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

// Built-in format names.
const (
	FormatEmail      = "email"
	FormatURL        = "url"
	FormatIP         = "ip"
	FormatEnum       = "enum"
	FormatIntRange   = "intRange"
	FormatFloatRange = "floatRange"
)

// Validator checks a single attribute value.
type Validator interface {
	Validate(value any) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(value any) error

// Validate calls f.
func (f ValidatorFunc) Validate(value any) error { return f(value) }

// Factory builds a validator for an attribute, reading its size and format options.
type Factory func(attr schema.Attribute) Validator

type format struct {
	factory Factory
	typ     schema.AttributeType
}

// Formats is a registry of named semantic validators keyed by base type.
// Safe for concurrent use.
type Formats struct {
	mu      sync.RWMutex
	formats map[string]format
}

// NewFormats creates a registry with the built-in formats.
func NewFormats() *Formats {
	f := &Formats{formats: make(map[string]format)}
	f.Add(FormatEmail, schema.TypeString, func(schema.Attribute) Validator { return ValidatorFunc(validateEmail) })
	f.Add(FormatURL, schema.TypeString, func(schema.Attribute) Validator { return ValidatorFunc(validateURL) })
	f.Add(FormatIP, schema.TypeString, func(schema.Attribute) Validator { return ValidatorFunc(validateIP) })
	f.Add(FormatEnum, schema.TypeString, enumValidator)
	f.Add(FormatIntRange, schema.TypeInteger, rangeValidator)
	f.Add(FormatFloatRange, schema.TypeFloat, rangeValidator)
	return f
}

// Add registers or replaces a format.
func (f *Formats) Add(name string, typ schema.AttributeType, factory Factory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.formats[name] = format{factory: factory, typ: typ}
}

// Remove unregisters a format.
func (f *Formats) Remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.formats, name)
}

// Has reports whether name is registered for base type typ.
func (f *Formats) Has(name string, typ schema.AttributeType) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fm, ok := f.formats[name]
	return ok && fm.typ == typ
}

// For builds the validator of attr's format. ok is false when attr has no
// registered format.
func (f *Formats) For(attr schema.Attribute) (Validator, bool) {
	if attr.Format == "" {
		return nil, false
	}
	f.mu.RLock()
	fm, ok := f.formats[attr.Format]
	f.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return fm.factory(attr), true
}

func validateEmail(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("must be a string")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return fmt.Errorf("must be a valid email address")
	}
	return nil
}

func validateURL(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("must be a string")
	}
	u, err := url.ParseRequestURI(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be a valid URL")
	}
	return nil
}

func validateIP(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("must be a string")
	}
	if _, err := netip.ParseAddr(s); err != nil {
		return fmt.Errorf("must be a valid IP address")
	}
	return nil
}

func enumValidator(attr schema.Attribute) Validator {
	var elements []string
	if list, ok := attr.FormatOptions["elements"].([]any); ok {
		for _, e := range list {
			if s, ok := e.(string); ok {
				elements = append(elements, s)
			}
		}
	}
	return ValidatorFunc(func(v any) error {
		s, ok := v.(string)
		if !ok || !slices.Contains(elements, s) {
			return fmt.Errorf("must be one of %v", elements)
		}
		return nil
	})
}

func rangeValidator(attr schema.Attribute) Validator {
	minV, hasMin := toFloat(attr.FormatOptions["min"])
	maxV, hasMax := toFloat(attr.FormatOptions["max"])
	return ValidatorFunc(func(v any) error {
		f, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("must be numeric")
		}
		if attr.Type == schema.TypeInteger && f != float64(int64(f)) {
			return fmt.Errorf("must be an integer")
		}
		if (hasMin && f < minV) || (hasMax && f > maxV) {
			return fmt.Errorf("must be between %v and %v", attr.FormatOptions["min"], attr.FormatOptions["max"])
		}
		return nil
	})
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}
