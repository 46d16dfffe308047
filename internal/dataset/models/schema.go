package models

import (
	"fmt"
	"net/mail"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	dErrors "dataplane/pkg/domain-errors"
	strutil "dataplane/pkg/platform/strings"
)

// FieldType is the semantic type of a schema field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldText    FieldType = "text"
	FieldNumber  FieldType = "number"
	FieldDate    FieldType = "date"
	FieldEmail   FieldType = "email"
	FieldPhone   FieldType = "phone"
	FieldURL     FieldType = "url"
	FieldBoolean FieldType = "boolean"
	FieldSelect  FieldType = "select"
	FieldJSON    FieldType = "json"
)

func (t FieldType) IsValid() bool {
	switch t {
	case FieldString, FieldText, FieldNumber, FieldDate, FieldEmail,
		FieldPhone, FieldURL, FieldBoolean, FieldSelect, FieldJSON:
		return true
	}
	return false
}

const (
	DefaultSchemaVersion = "1.0"
	maxFieldNameLength   = 64
	maxFields            = 200
)

// Field describes one entry in a dataset schema.
type Field struct {
	Name       string    `json:"name"`
	Label      string    `json:"label,omitempty"`
	Type       FieldType `json:"type"`
	Required   bool      `json:"required"`
	Searchable bool      `json:"searchable"`
	Sortable   bool      `json:"sortable"`
	Order      int       `json:"order"`
	Options    []string  `json:"options,omitempty"`
}

func (f Field) equal(o Field) bool {
	return f.Name == o.Name && f.Label == o.Label && f.Type == o.Type &&
		f.Required == o.Required && f.Searchable == o.Searchable &&
		f.Sortable == o.Sortable && f.Order == o.Order &&
		slices.Equal(f.Options, o.Options)
}

// Schema is the ordered field list of a dataset.
//
// Invariants:
//   - Field names are non-empty, unique, and never start with "_"
//   - Every field has a known type; select fields carry at least one option
//   - Fields are sorted by Order, then Name
//   - Version is non-empty
type Schema struct {
	Fields  []Field `json:"fields"`
	Version string  `json:"version"`
}

// NewSchema validates fields and returns them in display order.
func NewSchema(fields []Field, version string) (Schema, error) {
	if len(fields) > maxFields {
		return Schema{}, dErrors.Newf(dErrors.CodeInvariantViolation, "schema cannot have more than %d fields", maxFields)
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		f.Name = strings.TrimSpace(f.Name)
		if f.Name == "" {
			return Schema{}, dErrors.NewField(dErrors.CodeInvariantViolation, "schema.fields", "field name cannot be empty")
		}
		if strings.HasPrefix(f.Name, "_") {
			return Schema{}, dErrors.NewField(dErrors.CodeInvariantViolation, f.Name, fmt.Sprintf("field name %q is reserved", f.Name))
		}
		if len(f.Name) > maxFieldNameLength {
			return Schema{}, dErrors.NewField(dErrors.CodeInvariantViolation, f.Name, fmt.Sprintf("field name must be %d characters or less", maxFieldNameLength))
		}
		if _, dup := seen[f.Name]; dup {
			return Schema{}, dErrors.NewField(dErrors.CodeInvariantViolation, f.Name, fmt.Sprintf("duplicate field name %q", f.Name))
		}
		seen[f.Name] = struct{}{}
		if !f.Type.IsValid() {
			return Schema{}, dErrors.NewField(dErrors.CodeInvariantViolation, f.Name, fmt.Sprintf("field %q has unknown type %q", f.Name, f.Type))
		}
		f.Options = strutil.DedupeAndTrim(f.Options)
		if f.Type == FieldSelect && len(f.Options) == 0 {
			return Schema{}, dErrors.NewField(dErrors.CodeInvariantViolation, f.Name, fmt.Sprintf("select field %q requires options", f.Name))
		}
		if f.Label == "" {
			f.Label = f.Name
		}
		out = append(out, f)
	}
	slices.SortStableFunc(out, func(a, b Field) int {
		if a.Order != b.Order {
			return a.Order - b.Order
		}
		return strings.Compare(a.Name, b.Name)
	})

	version = strings.TrimSpace(version)
	if version == "" {
		version = DefaultSchemaVersion
	}
	return Schema{Fields: out, Version: version}, nil
}

// Field looks up a field by name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (s Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// SameFields reports whether two schemas define identical field lists.
func (s Schema) SameFields(o Schema) bool {
	return slices.EqualFunc(s.Fields, o.Fields, Field.equal)
}

// NextSchemaVersion bumps the minor component: "1.0" -> "1.1", "2" -> "2.1".
// Versions that are not numeric get ".1" appended.
func NextSchemaVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "1.1"
	}
	major, minor, hasMinor := strings.Cut(v, ".")
	if _, err := strconv.Atoi(major); err != nil {
		return v + ".1"
	}
	if !hasMinor {
		return major + ".1"
	}
	n, err := strconv.Atoi(minor)
	if err != nil {
		return v + ".1"
	}
	return major + "." + strconv.Itoa(n+1)
}

// ValidationMode controls how unknown payload keys are treated.
type ValidationMode string

const (
	ValidationStrict           ValidationMode = "strict"
	ValidationAllowExtraFields ValidationMode = "allow_extra_fields"
)

func (m ValidationMode) IsValid() bool {
	return m == ValidationStrict || m == ValidationAllowExtraFields
}

// Validate checks a complete payload against the schema and returns it with
// known fields normalized to their canonical kinds. Errors carry the field.
//
// Strict mode rejects keys absent from the schema; allow_extra_fields keeps
// them untouched. Both modes enforce required fields (null counts as missing).
func (s Schema) Validate(data Data, mode ValidationMode) (Data, error) {
	out := make(Data, len(data))
	for _, key := range data.Keys() {
		v := data[key]
		f, known := s.Field(key)
		if !known {
			if mode == ValidationStrict {
				return nil, dErrors.NewField(dErrors.CodeValidation, key, fmt.Sprintf("unknown field %q", key))
			}
			out[key] = v
			continue
		}
		nv, err := f.Normalize(v)
		if err != nil {
			return nil, err
		}
		out[key] = nv
	}
	for _, f := range s.Fields {
		if !f.Required {
			continue
		}
		if v, ok := out[f.Name]; !ok || v.IsNull() {
			return nil, dErrors.NewField(dErrors.CodeValidation, f.Name, fmt.Sprintf("field %q is required", f.Name))
		}
	}
	return out, nil
}

// Coerce normalizes known fields where possible and leaves everything else
// unchanged. Used when a dataset disables validation on submit.
func (s Schema) Coerce(data Data) Data {
	out := data.Clone()
	for key, v := range out {
		if f, ok := s.Field(key); ok {
			if nv, err := f.Normalize(v); err == nil {
				out[key] = nv
			}
		}
	}
	return out
}

// Normalize type-checks v against the field and returns its canonical form.
// Null always passes; Validate enforces Required.
func (f Field) Normalize(v Value) (Value, error) {
	if v.IsNull() {
		return v, nil
	}
	invalid := func(msg string) error {
		return dErrors.NewField(dErrors.CodeValidation, f.Name, fmt.Sprintf("field %q %s", f.Name, msg))
	}

	switch f.Type {
	case FieldString, FieldText:
		if s, ok := v.AsString(); ok {
			return String(s), nil
		}
		if v.Kind() == KindNumber || v.Kind() == KindBool {
			return String(v.Text()), nil
		}
		return Value{}, invalid("must be a string")

	case FieldNumber:
		if _, ok := v.AsNumber(); ok {
			return v, nil
		}
		if s, ok := v.AsString(); ok {
			if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return Number(n), nil
			}
		}
		return Value{}, invalid("must be a number")

	case FieldBoolean:
		if _, ok := v.AsBool(); ok {
			return v, nil
		}
		if s, ok := v.AsString(); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
				return Bool(b), nil
			}
		}
		return Value{}, invalid("must be a boolean")

	case FieldDate:
		if _, ok := v.AsDate(); ok {
			return v, nil
		}
		if s, ok := v.AsString(); ok {
			if t, ok := parseDate(s); ok {
				return Date(t), nil
			}
		}
		return Value{}, invalid("must be a date (YYYY-MM-DD or RFC 3339)")

	case FieldEmail:
		s, ok := v.AsString()
		if !ok {
			return Value{}, invalid("must be an email address")
		}
		s = strings.TrimSpace(s)
		addr, err := mail.ParseAddress(s)
		if err != nil || addr.Address != s {
			return Value{}, invalid("must be an email address")
		}
		return String(s), nil

	case FieldPhone:
		s, ok := v.AsString()
		if !ok {
			if n, isNum := v.AsNumber(); isNum {
				s, ok = formatNumber(n), true
			}
		}
		if !ok || !isPhone(s) {
			return Value{}, invalid("must be a phone number")
		}
		return String(strings.TrimSpace(s)), nil

	case FieldURL:
		s, ok := v.AsString()
		if !ok {
			return Value{}, invalid("must be a URL")
		}
		u, err := url.ParseRequestURI(strings.TrimSpace(s))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Value{}, invalid("must be an http(s) URL")
		}
		return String(strings.TrimSpace(s)), nil

	case FieldSelect:
		s, ok := v.AsString()
		if !ok || !slices.Contains(f.Options, s) {
			return Value{}, invalid(fmt.Sprintf("must be one of %s", strings.Join(f.Options, ", ")))
		}
		return v, nil

	case FieldJSON:
		return v, nil
	}
	return Value{}, invalid("has unsupported type")
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// isPhone accepts digits with common separators and an optional leading +,
// requiring 7 to 15 digits.
func isPhone(s string) bool {
	s = strings.TrimSpace(s)
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return digits >= 7 && digits <= 15
}
