package core

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// AnonymousName is the donor name recorded when nothing was selected or
// typed during entry ("anonymous").
const AnonymousName = "익명"

const dateLayout = "2006-01-02"

type (
	// Date is a calendar day without time of day.
	Date struct {
		time.Time
	}

	Donor struct {
		ID             string `json:"id"`
		Name           string `json:"name"`
		EnglishName    string `json:"englishName,omitempty"`
		OfferingNumber string `json:"offeringNumber,omitempty"`
		Phone          string `json:"phone,omitempty"`
		Email          string `json:"email,omitempty"`
		Address        string `json:"address,omitempty"`
		Note           string `json:"note,omitempty"`
		Active         bool   `json:"active"`
	}

	OfferingType struct {
		Code        string `json:"code"`
		Label       string `json:"label"`
		Category    string `json:"category,omitempty"`
		Description string `json:"description,omitempty"`
		Active      bool   `json:"active"`
	}

	// OfferingRecord is a committed donation. Donor name, offering number and
	// category label are captured at write time and never follow later edits
	// of the donor or the category.
	OfferingRecord struct {
		ID             string `json:"id"`
		Date           Date   `json:"date"`
		DonorID        string `json:"donorId,omitempty"`
		DonorName      string `json:"donorName"`
		OfferingNumber string `json:"offeringNumber,omitempty"`
		Code           string `json:"code"`
		CodeLabel      string `json:"codeLabel"`
		Amount         Money  `json:"amount"`
		Note           string `json:"note,omitempty"`
	}

	// PendingItem is a draft line of the current entry session.
	PendingItem struct {
		ID             string `json:"id"`
		Code           string `json:"code"`
		CodeLabel      string `json:"codeLabel"`
		Amount         Money  `json:"amount"`
		Note           string `json:"note,omitempty"`
		DonorName      string `json:"donorName"`
		DonorID        string `json:"donorId,omitempty"`
		OfferingNumber string `json:"offeringNumber,omitempty"`
	}

	BudgetRecord struct {
		Year   int    `json:"year"`
		Code   string `json:"code"`
		Amount Money  `json:"amount"`
		Note   string `json:"note,omitempty"`
	}

	// MonthTotal is one row of the pre-aggregated monthly totals.
	MonthTotal struct {
		Month int   `json:"month"`
		Total Money `json:"total"`
	}

	// DonorDayTotal is one row of the per-donor daily totals.
	DonorDayTotal struct {
		Year  int    `json:"year"`
		Month int    `json:"month"`
		Day   int    `json:"day"`
		Code  string `json:"code"`
		Total Money  `json:"total"`
	}
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string. Out-of-range days such as
// 2025-02-30 are rejected rather than normalized.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) Day() int   { return d.Time.Day() }
func (d Date) Month() int { return int(d.Time.Month()) }
func (d Date) Year() int  { return d.Time.Year() }

// IsSunday reports whether the date falls on a Sunday, the usual offering day.
func (d Date) IsSunday() bool {
	return d.Weekday() == time.Sunday
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// LastSunday returns the most recent Sunday on or before now.
func LastSunday(now time.Time) Date {
	back := int(now.Weekday())
	y, m, day := now.AddDate(0, 0, -back).Date()
	return NewDate(y, int(m), day)
}

// NormalizeCode trims and upper-cases a category code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// OfferingNumberValue parses the leading digits of an offering number.
// ok is false when the number is empty or does not start with a digit.
func OfferingNumberValue(number string) (n int, ok bool) {
	number = strings.TrimSpace(number)
	end := 0
	for end < len(number) && number[end] >= '0' && number[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	v, err := strconv.Atoi(number[:end])
	if err != nil {
		return 0, false
	}
	return v, true
}

func (d Donor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

func (t OfferingType) Validate() error {
	if NormalizeCode(t.Code) == "" {
		return ErrEmptyCategory
	}
	if strings.TrimSpace(t.Label) == "" {
		return ErrEmptyLabel
	}
	return nil
}

func (r OfferingRecord) Validate() error {
	if err := r.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Code) == "" {
		return ErrEmptyCategory
	}
	if err := r.Amount.Validate(); err != nil {
		return err
	}
	if utf8.RuneCountInString(r.Note) > 500 {
		return ErrNoteTooLong
	}
	return nil
}

func (b BudgetRecord) Validate() error {
	if b.Year < 1900 || b.Year > 3000 {
		return ErrInvalidYear
	}
	if NormalizeCode(b.Code) == "" {
		return ErrEmptyCategory
	}
	return b.Amount.Validate()
}

// Label is the short contributor label used in summaries: the offering
// number when present, otherwise the donor name, suffixed with the note.
func (p PendingItem) Label() string {
	return ContributorLabel(p.OfferingNumber, p.DonorName, p.Note)
}

// ContributorLabel builds "number(note)" or "name(note)".
func ContributorLabel(offeringNumber, name, note string) string {
	label := strings.TrimSpace(offeringNumber)
	if label == "" {
		label = strings.TrimSpace(name)
	}
	if label == "" {
		label = AnonymousName
	}
	if note = strings.TrimSpace(note); note != "" {
		label += "(" + note + ")"
	}
	return label
}
