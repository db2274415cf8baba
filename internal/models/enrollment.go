package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

const nilValue = "<nil>"

// Enrollment captures a person's enrollment attributes. Every field is optional.
// The zero value is ready to use. An Enrollment is not safe for concurrent
// mutation; share a Clone instead.
type Enrollment struct {
	firstName   *string
	lastName    *string
	dateOfBirth *time.Time
	language    *string
}

// NewEnrollment returns an Enrollment with every field unset.
func NewEnrollment() *Enrollment {
	return &Enrollment{}
}

// FirstName returns the first name or nil when unset.
func (e *Enrollment) FirstName() *string {
	if e == nil {
		return nil
	}
	return copyString(e.firstName)
}

// SetFirstName replaces the first name. Setters on a nil Enrollment do nothing.
func (e *Enrollment) SetFirstName(v *string) {
	if e == nil {
		return
	}
	e.firstName = copyString(v)
}

// LastName returns the last name or nil when unset.
func (e *Enrollment) LastName() *string {
	if e == nil {
		return nil
	}
	return copyString(e.lastName)
}

// SetLastName replaces the last name.
func (e *Enrollment) SetLastName(v *string) {
	if e == nil {
		return
	}
	e.lastName = copyString(v)
}

// DateOfBirth returns the date of birth or nil when unset.
func (e *Enrollment) DateOfBirth() *time.Time {
	if e == nil {
		return nil
	}
	return copyTime(e.dateOfBirth)
}

// SetDateOfBirth replaces the date of birth.
func (e *Enrollment) SetDateOfBirth(v *time.Time) {
	if e == nil {
		return
	}
	e.dateOfBirth = copyTime(v)
}

// Language returns the language preference or nil when unset.
func (e *Enrollment) Language() *string {
	if e == nil {
		return nil
	}
	return copyString(e.language)
}

// SetLanguage replaces the language preference.
func (e *Enrollment) SetLanguage(v *string) {
	if e == nil {
		return
	}
	e.language = copyString(v)
}

// Clone returns an independent copy.
func (e *Enrollment) Clone() *Enrollment {
	if e == nil {
		return nil
	}
	return &Enrollment{
		firstName:   copyString(e.firstName),
		lastName:    copyString(e.lastName),
		dateOfBirth: copyTime(e.dateOfBirth),
		language:    copyString(e.language),
	}
}

// String renders the record as
// "Enrollment [firstName=.., lastName=.., dateOfBirth=.., language=..]".
func (e *Enrollment) String() string {
	if e == nil {
		e = &Enrollment{}
	}
	var b strings.Builder
	b.WriteString("Enrollment [firstName=")
	b.WriteString(describeString(e.firstName))
	b.WriteString(", lastName=")
	b.WriteString(describeString(e.lastName))
	b.WriteString(", dateOfBirth=")
	b.WriteString(describeTime(e.dateOfBirth))
	b.WriteString(", language=")
	b.WriteString(describeString(e.language))
	b.WriteString("]")
	return b.String()
}

type enrollmentJSON struct {
	FirstName   *string `json:"firstName"`
	LastName    *string `json:"lastName"`
	DateOfBirth *Date   `json:"dateOfBirth"`
	Language    *string `json:"language"`
}

// MarshalJSON encodes unset fields as null and the date as YYYY-MM-DD.
func (e *Enrollment) MarshalJSON() ([]byte, error) {
	if e == nil {
		return []byte("null"), nil
	}
	payload := enrollmentJSON{
		FirstName: e.firstName,
		LastName:  e.lastName,
		Language:  e.language,
	}
	if e.dateOfBirth != nil {
		d := Date(*e.dateOfBirth)
		payload.DateOfBirth = &d
	}
	return json.Marshal(payload)
}

// UnmarshalJSON decodes the MarshalJSON format. Missing or null keys leave the field unset.
func (e *Enrollment) UnmarshalJSON(b []byte) error {
	var payload enrollmentJSON
	if err := json.Unmarshal(b, &payload); err != nil {
		return fmt.Errorf("decode enrollment: %w", err)
	}
	*e = Enrollment{
		firstName: payload.FirstName,
		lastName:  payload.LastName,
		language:  payload.Language,
	}
	if payload.DateOfBirth != nil && !payload.DateOfBirth.IsZero() {
		t := payload.DateOfBirth.Time()
		e.dateOfBirth = &t
	}
	return nil
}

// MarshalLogObject lets zap log the record as a structured object.
func (e *Enrollment) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if e == nil {
		return nil
	}
	if e.firstName != nil {
		enc.AddString("first_name", *e.firstName)
	}
	if e.lastName != nil {
		enc.AddString("last_name", *e.lastName)
	}
	if e.dateOfBirth != nil {
		enc.AddString("date_of_birth", e.dateOfBirth.Format(DateLayout))
	}
	if e.language != nil {
		enc.AddString("language", *e.language)
	}
	return nil
}

// StringPtr returns a pointer to v.
func StringPtr(v string) *string {
	return &v
}

// TimePtr returns a pointer to v.
func TimePtr(v time.Time) *time.Time {
	return &v
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func describeString(v *string) string {
	if v == nil {
		return nilValue
	}
	return *v
}

func describeTime(v *time.Time) string {
	if v == nil {
		return nilValue
	}
	return v.Format(DateLayout)
}
