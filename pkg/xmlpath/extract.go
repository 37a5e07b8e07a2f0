package xmlpath

import (
	"errors"
	"fmt"
	"strings"
)

// Location names an element by path and, optionally, one of its attributes.
// With an empty Attr the element's text is selected.
type Location struct {
	Path string
	Attr string
}

func (l Location) String() string {
	if l.Attr == "" {
		return l.Path
	}
	return l.Path + "@" + l.Attr
}

// Field binds a field name to where its value lives.
type Field struct {
	Name     string
	Location Location
}

// ErrorKind classifies why a field could not be extracted.
type ErrorKind string

const (
	MissingPath      ErrorKind = "missing_path"
	MissingAttribute ErrorKind = "missing_attribute"
	MissingText      ErrorKind = "missing_text"
	// InvalidPath means the location itself does not compile. It indicates a
	// broken field table rather than a broken document.
	InvalidPath ErrorKind = "invalid_path"
)

// FieldError reports one field that could not be extracted.
type FieldError struct {
	Field    string
	Kind     ErrorKind
	Location Location
	Err      error
}

func (e *FieldError) Error() string {
	switch e.Kind {
	case MissingPath:
		return fmt.Sprintf("%s: path %s not found in document", e.Field, e.Location.Path)
	case MissingAttribute:
		return fmt.Sprintf("%s: attribute %s not found on path %s", e.Field, e.Location.Attr, e.Location.Path)
	case MissingText:
		return fmt.Sprintf("%s: no text found at path %s", e.Field, e.Location.Path)
	default:
		return fmt.Sprintf("%s: invalid path %s: %v", e.Field, e.Location.Path, e.Err)
	}
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Values holds extracted field values. Absent fields have no key.
type Values map[string]string

// Ptr returns a pointer to the value of name, or nil when it is absent.
func (v Values) Ptr(name string) *string {
	s, ok := v[name]
	if !ok {
		return nil
	}
	return &s
}

// Extract resolves every field relative to node. Values are trimmed; a
// value that is empty after trimming counts as missing. Each failing field
// yields one FieldError and the remaining fields are still extracted.
func Extract(node *Node, fields []Field) (Values, []*FieldError) {
	values := make(Values, len(fields))
	var failures []*FieldError

	for _, f := range fields {
		value, fe := extractOne(node, f)
		if fe != nil {
			failures = append(failures, fe)
			continue
		}
		values[f.Name] = value
	}
	return values, failures
}

func extractOne(node *Node, f Field) (string, *FieldError) {
	path, err := compileDefault(f.Location.Path)
	if err != nil {
		return "", &FieldError{Field: f.Name, Kind: InvalidPath, Location: f.Location, Err: err}
	}

	el := path.Find(node)
	if el == nil {
		return "", &FieldError{Field: f.Name, Kind: MissingPath, Location: f.Location}
	}

	if f.Location.Attr != "" {
		value, ok := el.Attr(f.Location.Attr)
		value = strings.TrimSpace(value)
		if !ok || value == "" {
			return "", &FieldError{Field: f.Name, Kind: MissingAttribute, Location: f.Location}
		}
		return value, nil
	}

	value := strings.TrimSpace(el.Text)
	if value == "" {
		return "", &FieldError{Field: f.Name, Kind: MissingText, Location: f.Location}
	}
	return value, nil
}

// Validate compiles every location in fields with DefaultNamespaces.
func Validate(fields []Field) error {
	var errs []error
	for _, f := range fields {
		if _, err := compileDefault(f.Location.Path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
		}
	}
	return errors.Join(errs...)
}

// JoinErrors renders failures as one message, one failure per line.
func JoinErrors(failures []*FieldError) string {
	msgs := make([]string, len(failures))
	for i, f := range failures {
		msgs[i] = f.Error()
	}
	return strings.Join(msgs, "\n")
}
