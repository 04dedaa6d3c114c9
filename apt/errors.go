package apt

import (
	"errors"
	"fmt"
)

// IntegrityError reports a record that references something the release
// does not declare or the snapshot does not hold. The record is skipped.
type IntegrityError struct {
	Distribution string
	Component    string
	Record       string
	Reason       string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s: %s: %s", e.Distribution, e.Component, e.Record, e.Reason)
}

// EncodingError reports a record that cannot be rendered as a control
// paragraph, e.g. because a required field is missing. The record is skipped.
type EncodingError struct {
	Distribution string
	Component    string
	Record       string
	Err          error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%s: %s: %s: %v", e.Distribution, e.Component, e.Record, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// MissingConstituentError reports a source package whose constituent file is
// absent from the snapshot. It is fatal to the publish.
type MissingConstituentError struct {
	Source string
	Name   string
	SHA256 string
}

func (e *MissingConstituentError) Error() string {
	return fmt.Sprintf("source %s: constituent %s (sha256 %s) is not in the snapshot", e.Source, e.Name, e.SHA256)
}

// SigningError reports a failure of the signing service. It is fatal to the publish.
type SigningError struct {
	Path string
	Err  error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing %s: %v", e.Path, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// Warning is a non fatal problem found during a publish.
type Warning struct {
	Distribution string `json:"distribution,omitempty"`
	Component    string `json:"component,omitempty"`
	Record       string `json:"record,omitempty"`
	Message      string `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s: %s: %s", w.Distribution, w.Component, w.Record, w.Message)
}

// AsWarning converts integrity and encoding errors to a Warning. It returns
// false for any other error, which must then be treated as fatal.
func AsWarning(err error) (Warning, bool) {
	var ie *IntegrityError
	if errors.As(err, &ie) {
		return Warning{Distribution: ie.Distribution, Component: ie.Component, Record: ie.Record, Message: ie.Reason}, true
	}
	var ee *EncodingError
	if errors.As(err, &ee) {
		return Warning{Distribution: ee.Distribution, Component: ee.Component, Record: ee.Record, Message: ee.Err.Error()}, true
	}
	return Warning{}, false
}
