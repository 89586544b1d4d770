package models

// DoseLogRequest records a dose taken and schedules the next reminder.
type DoseLogRequest struct {
	MedicationID   string     `json:"medicationId,omitempty"`
	MedicationName string     `json:"medicationName"`
	IntervalHours  int        `json:"intervalHours"`
	TakenAt        *Timestamp `json:"takenAt,omitempty"`
}

// Reminder is a pending medication reminder.
type Reminder struct {
	ID             string    `json:"id"`
	MedicationName string    `json:"medicationName"`
	DueAt          Timestamp `json:"dueAt"`
	CreatedAt      Timestamp `json:"createdAt"`
}

// PagedReminders is a list of reminders.
type PagedReminders struct {
	Items []Reminder        `json:"items"`
	Meta  PagedResponseMeta `json:"meta"`
}

// Dose is one recorded dose.
type Dose struct {
	ID             string    `json:"id"`
	MedicationID   string    `json:"medicationId,omitempty"`
	MedicationName string    `json:"medicationName"`
	TakenAt        Timestamp `json:"takenAt"`
	NextDueAt      Timestamp `json:"nextDueAt"`
}

// DoseLogged is returned when a dose is recorded, with the reminder scheduled for the next one.
type DoseLogged struct {
	Dose     Dose     `json:"dose"`
	Reminder Reminder `json:"reminder"`
}

// PagedDoses is a page of a user's dose history, most recent first.
type PagedDoses struct {
	Items []Dose            `json:"items"`
	Meta  PagedResponseMeta `json:"meta"`
}

// NextDue is when a medication is next due, taken from its latest dose.
type NextDue struct {
	MedicationID   string    `json:"medicationId,omitempty"`
	MedicationName string    `json:"medicationName"`
	LastTakenAt    Timestamp `json:"lastTakenAt"`
	NextDueAt      Timestamp `json:"nextDueAt"`
}

// NextDueList lists the next due time per medication.
type NextDueList struct {
	Items []NextDue `json:"items"`
}
