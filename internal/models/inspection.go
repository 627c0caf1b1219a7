package models

import (
	"fmt"
	"strings"
	"time"
)

// InspectionStatus is the lifecycle state of an inspection.
type InspectionStatus string

const (
	StatusPending     InspectionStatus = "pending"
	StatusConfirmed   InspectionStatus = "confirmed"
	StatusInProgress  InspectionStatus = "in-progress"
	StatusCompleted   InspectionStatus = "completed"
	StatusCancelled   InspectionStatus = "cancelled"
	StatusRescheduled InspectionStatus = "rescheduled"
)

// ParseInspectionStatus validates a status filter coming from a client.
func ParseInspectionStatus(s string) (InspectionStatus, bool) {
	st := InspectionStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusRescheduled:
		return st, true
	}
	return "", false
}

// IsTerminal reports whether no transition can leave this status.
func (s InspectionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// HoldsSlot reports whether an inspection in this status owns a calendar slot.
func (s InspectionStatus) HoldsSlot() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusRescheduled:
		return true
	}
	return false
}

// TimeSlot is the slot currently held by an inspection.
type TimeSlot struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Period    Period `json:"period"`
}

// RescheduleRecord keeps the most recent slot an inspection moved away from.
type RescheduleRecord struct {
	Date     time.Time `json:"date"`
	TimeSlot TimeSlot  `json:"timeSlot"`
	Reason   string    `json:"reason"`
}

type Condition string

const (
	ConditionExcellent Condition = "excellent"
	ConditionGood      Condition = "good"
	ConditionFair      Condition = "fair"
	ConditionPoor      Condition = "poor"
)

// Valid reports whether c is empty or one of the known grades.
func (c Condition) Valid() bool {
	switch c {
	case "", ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor:
		return true
	}
	return false
}

// InspectionReport is attached when an inspection is completed.
type InspectionReport struct {
	OverallCondition  Condition `json:"overallCondition,omitempty"`
	ExteriorCondition Condition `json:"exteriorCondition,omitempty"`
	InteriorCondition Condition `json:"interiorCondition,omitempty"`
	EngineCondition   Condition `json:"engineCondition,omitempty"`
	Issues            []string  `json:"issues,omitempty"`
	Recommendations   []string  `json:"recommendations,omitempty"`
	EstimatedValue    float64   `json:"estimatedValue,omitempty"`
	Images            []string  `json:"images,omitempty"`
}

// Validate checks condition grades and the estimated value.
func (r *InspectionReport) Validate() error {
	if r == nil {
		return nil
	}
	grades := map[string]Condition{
		"overallCondition":  r.OverallCondition,
		"exteriorCondition": r.ExteriorCondition,
		"interiorCondition": r.InteriorCondition,
		"engineCondition":   r.EngineCondition,
	}
	for field, c := range grades {
		if !c.Valid() {
			return fmt.Errorf("%s: unknown condition %q", field, c)
		}
	}
	if r.EstimatedValue < 0 {
		return fmt.Errorf("estimatedValue must not be negative")
	}
	return nil
}

// Inspection is a customer's appointment against one car.
type Inspection struct {
	ID              string            `json:"id"`
	CustomerID      int64             `json:"customerId"`
	CarID           int64             `json:"carId"`
	InspectionDate  time.Time         `json:"inspectionDate"`
	TimeSlot        TimeSlot          `json:"timeSlot"`
	Status          InspectionStatus  `json:"status"`
	InspectorID     *int64            `json:"inspectorId,omitempty"`
	CustomerNotes   string            `json:"customerNotes,omitempty"`
	InspectorNotes  string            `json:"inspectorNotes,omitempty"`
	Report          *InspectionReport `json:"inspectionReport,omitempty"`
	RescheduledFrom *RescheduleRecord `json:"rescheduledFrom,omitempty"`
	ConfirmedAt     *time.Time        `json:"confirmedAt,omitempty"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
	IsActive        bool              `json:"isActive"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Ref is the human-friendly reference shown in emails, e.g. INS-20250601-3F2A.
func (i *Inspection) Ref() string {
	suffix := i.ID
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return fmt.Sprintf("INS-%s-%s", i.InspectionDate.Format("20060102"), strings.ToUpper(suffix))
}

// IsOwnedBy reports whether userID booked this inspection.
func (i *Inspection) IsOwnedBy(userID int64) bool {
	return i.CustomerID == userID
}

// InspectionFilter narrows inspection listings. Zero values mean "any".
type InspectionFilter struct {
	Statuses    []InspectionStatus
	CustomerID  int64
	InspectorID int64
	StartDate   *time.Time
	EndDate     *time.Time
	Page        int
	Limit       int
}

// Normalize applies pagination defaults and bounds.
func (f *InspectionFilter) Normalize() {
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
}

// Offset returns the number of rows to skip for the current page.
func (f *InspectionFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// InspectionPage is one page of a filtered inspection listing.
type InspectionPage struct {
	Inspections []*Inspection `json:"inspections"`
	CurrentPage int           `json:"currentPage"`
	TotalPages  int           `json:"totalPages"`
	Total       int           `json:"totalInspections"`
	HasNextPage bool          `json:"hasNextPage"`
	HasPrevPage bool          `json:"hasPrevPage"`
}

// NewInspectionPage computes page metadata for total matching rows.
func NewInspectionPage(items []*Inspection, total, page, limit int) *InspectionPage {
	if items == nil {
		items = []*Inspection{}
	}
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return &InspectionPage{
		Inspections: items,
		CurrentPage: page,
		TotalPages:  totalPages,
		Total:       total,
		HasNextPage: page < totalPages,
		HasPrevPage: page > 1,
	}
}
