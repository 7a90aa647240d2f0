// Package intake implements the intake orchestration engine: field
// provisioning, fact mapping, deadline scheduling, and the pipeline that
// sequences them for one submission.
package intake

import (
	"fmt"
	"time"
)

// Clio custom field data types used by the intake field set.
const (
	FieldTypeDate     = "date"
	FieldTypeTextLine = "text_line"
	FieldTypeTextArea = "text_area"
)

// Custom field names written by the pipeline.
const (
	FieldDateOfAccident        = "Date of Accident"
	FieldAccidentLocation      = "Accident Location"
	FieldDefendantName         = "Defendant Name"
	FieldClientVehiclePlate    = "Client Vehicle Plate"
	FieldDefendantVehiclePlate = "Defendant Vehicle Plate"
	FieldNumberInjured         = "Number Injured"
	FieldAccidentDescription   = "Accident Description"
	FieldPoliceReportNumber    = "Police Report Number"
	FieldStatuteOfLimitations  = "Statute of Limitations"
	FieldClientPronounSubject  = "Client Pronoun Subject"
	FieldClientPronounPossess  = "Client Pronoun Possessive"
	FieldInjuryClause          = "Injury Clause"
)

// RequiredFields maps every field the pipeline writes to its data type.
func RequiredFields() map[string]string {
	return map[string]string{
		FieldDateOfAccident:        FieldTypeDate,
		FieldAccidentLocation:      FieldTypeTextLine,
		FieldDefendantName:         FieldTypeTextLine,
		FieldClientVehiclePlate:    FieldTypeTextLine,
		FieldDefendantVehiclePlate: FieldTypeTextLine,
		FieldNumberInjured:         FieldTypeTextLine,
		FieldAccidentDescription:   FieldTypeTextArea,
		FieldPoliceReportNumber:    FieldTypeTextLine,
		FieldStatuteOfLimitations:  FieldTypeDate,
		FieldClientPronounSubject:  FieldTypeTextLine,
		FieldClientPronounPossess:  FieldTypeTextLine,
		FieldInjuryClause:          FieldTypeTextArea,
	}
}

// CriticalFields are the fields whose absence halts the pipeline: the
// deadline calculation cannot run without them.
var CriticalFields = []string{FieldDateOfAccident, FieldStatuteOfLimitations}

// AccidentFacts is the structured record produced by the extraction
// collaborator. Immutable once produced; Validate must pass before any
// remote write happens.
type AccidentFacts struct {
	DateOfAccident        string `json:"date_of_accident"` // YYYY-MM-DD calendar date
	AccidentLocation      string `json:"accident_location"`
	DefendantName         string `json:"defendant_name"`
	ClientName            string `json:"client_name"`
	ClientVehiclePlate    string `json:"client_vehicle_plate"`
	DefendantVehiclePlate string `json:"defendant_vehicle_plate"`
	NumberInjured         int    `json:"number_injured"`
	AccidentDescription   string `json:"accident_description"`
	ClientGender          string `json:"client_gender"` // "male" or "female"
	PoliceReportNumber    string `json:"police_report_number"`
}

// Validate checks the extraction output before any remote write occurs.
func (f *AccidentFacts) Validate() error {
	if _, err := ParseCalendarDate(f.DateOfAccident); err != nil {
		return fmt.Errorf("date_of_accident: %w", err)
	}
	required := map[string]string{
		"accident_location":    f.AccidentLocation,
		"defendant_name":       f.DefendantName,
		"client_name":          f.ClientName,
		"client_vehicle_plate": f.ClientVehiclePlate,
		"accident_description": f.AccidentDescription,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is empty", name)
		}
	}
	if f.ClientGender != "male" && f.ClientGender != "female" {
		return fmt.Errorf("client_gender must be male or female, got %q", f.ClientGender)
	}
	if f.NumberInjured < 0 {
		return fmt.Errorf("number_injured is negative: %d", f.NumberInjured)
	}
	return nil
}

// AccidentDate returns the accident date as a calendar date.
func (f *AccidentFacts) AccidentDate() (time.Time, error) {
	return ParseCalendarDate(f.DateOfAccident)
}

// PronounSubject returns "he" or "she" for the retainer template.
func (f *AccidentFacts) PronounSubject() string {
	if f.ClientGender == "male" {
		return "he"
	}
	return "she"
}

// PronounPossessive returns "his" or "her" for the retainer template.
func (f *AccidentFacts) PronounPossessive() string {
	if f.ClientGender == "male" {
		return "his"
	}
	return "her"
}

// InjuryClause returns the engagement-scope paragraph, which depends on
// whether anyone was injured.
func (f *AccidentFacts) InjuryClause() string {
	if f.NumberInjured > 0 {
		return "Additionally, since the motor vehicle accident involved an injured person, " +
			"Attorney will also investigate potential bodily injury claims and review relevant " +
			"medical records to substantiate non-economic damages."
	}
	return "However, since the motor vehicle accident involved no reported injured people, " +
		"the scope of this engagement is strictly limited to the recovery of property damage " +
		"and loss of use."
}

// FieldValues renders the facts as custom-field values keyed by field name.
// Optional facts fall back to "Unknown" so the retainer template never merges
// an empty placeholder.
func (f *AccidentFacts) FieldValues() (map[string]string, error) {
	accident, err := f.AccidentDate()
	if err != nil {
		return nil, err
	}
	statute := StatuteDeadline(accident)

	defendantPlate := f.DefendantVehiclePlate
	if defendantPlate == "" {
		defendantPlate = "Unknown"
	}
	reportNumber := f.PoliceReportNumber
	if reportNumber == "" {
		reportNumber = "Unknown"
	}

	return map[string]string{
		FieldDateOfAccident:        f.DateOfAccident,
		FieldAccidentLocation:      f.AccidentLocation,
		FieldDefendantName:         f.DefendantName,
		FieldClientVehiclePlate:    f.ClientVehiclePlate,
		FieldDefendantVehiclePlate: defendantPlate,
		FieldNumberInjured:         fmt.Sprint(f.NumberInjured),
		FieldAccidentDescription:   f.AccidentDescription,
		FieldPoliceReportNumber:    reportNumber,
		FieldStatuteOfLimitations:  statute.Format("2006-01-02"),
		FieldClientPronounSubject:  f.PronounSubject(),
		FieldClientPronounPossess:  f.PronounPossessive(),
		FieldInjuryClause:          f.InjuryClause(),
	}, nil
}
