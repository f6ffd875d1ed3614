package pgstore

import (
	"encoding/json"
	"time"

	"github.com/hurttlocker/bookrecon/internal/store"
)

type bookingModel struct {
	ID              int64   `gorm:"primaryKey"`
	BookingNumber   string  `gorm:"type:varchar(32);not null;uniqueIndex"`
	CustomerName    string  `gorm:"not null"`
	CustomerEmail   string  `gorm:"not null;default:'';index"`
	CustomerPhone   string  `gorm:"not null;default:''"`
	PartySize       int     `gorm:"not null"`
	TourDate        string  `gorm:"type:varchar(10);not null;index"`
	StartTime       string  `gorm:"type:varchar(5);not null;default:''"`
	EndTime         string  `gorm:"type:varchar(5);not null;default:''"`
	DurationHours   float64 `gorm:"not null;default:0"`
	PickupLocation  string  `gorm:"not null;default:''"`
	DropoffLocation string  `gorm:"not null;default:''"`
	Stops           string  `gorm:"type:text;not null;default:'[]'"`
	SpecialRequests string  `gorm:"not null;default:''"`
	DriverNotes     string  `gorm:"not null;default:''"`
	TotalPrice      float64 `gorm:"not null;default:0"`
	Status          string  `gorm:"type:varchar(20);not null;default:'confirmed'"`
	SourceTag       string  `gorm:"type:varchar(64);not null;default:''"`
	DriverID        *int64  `gorm:"index"`
	VehicleID       *int64
	TimeCardID      *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (bookingModel) TableName() string { return "bookings" }

type timelineModel struct {
	ID          int64   `gorm:"primaryKey"`
	BookingID   int64   `gorm:"not null;index"`
	EventType   string  `gorm:"type:varchar(64);not null"`
	Description string  `gorm:"not null;default:''"`
	Payload     string  `gorm:"type:text;not null;default:'{}'"`
	SourceID    *string `gorm:"index"`
	CreatedAt   time.Time
}

func (timelineModel) TableName() string { return "booking_timeline" }

type timeCardModel struct {
	ID        int64  `gorm:"primaryKey"`
	DriverID  int64  `gorm:"not null;index:idx_time_cards_driver_date,priority:1"`
	WorkDate  string `gorm:"type:varchar(10);not null;index:idx_time_cards_driver_date,priority:2"`
	ClockIn   string `gorm:"not null;default:''"`
	ClockOut  string `gorm:"not null;default:''"`
	VehicleID *int64
	CreatedAt time.Time
}

func (timeCardModel) TableName() string { return "time_cards" }

type inspectionModel struct {
	ID             int64 `gorm:"primaryKey"`
	DriverID       int64 `gorm:"not null;index:idx_inspections_driver_date,priority:1"`
	VehicleID      *int64
	InspectionDate string `gorm:"type:varchar(10);not null;index:idx_inspections_driver_date,priority:2"`
	InspectionType string `gorm:"type:varchar(16);not null;check:inspection_type IN ('pre_trip','post_trip')"`
	Passed         bool   `gorm:"not null"`
	Notes          string `gorm:"not null;default:''"`
	CreatedAt      time.Time
}

func (inspectionModel) TableName() string { return "inspections" }

type reviewItemModel struct {
	ID        int64  `gorm:"primaryKey"`
	RunID     string `gorm:"type:varchar(64);not null;index"`
	Kind      string `gorm:"type:varchar(32);not null;check:kind IN ('low_confidence','unmatched_message')"`
	SourceID  string `gorm:"not null;default:'';index"`
	Label     string `gorm:"not null;default:''"`
	Reason    string `gorm:"not null;default:''"`
	Payload   string `gorm:"type:text;not null;default:'{}'"`
	CreatedAt time.Time
}

func (reviewItemModel) TableName() string { return "review_items" }

type runModel struct {
	ID         int64     `gorm:"primaryKey"`
	RunID      string    `gorm:"type:varchar(64);not null;uniqueIndex"`
	Command    string    `gorm:"type:varchar(32);not null"`
	Source     string    `gorm:"not null;default:''"`
	DryRun     bool      `gorm:"not null;default:false"`
	Status     string    `gorm:"type:varchar(16);not null;default:'running'"`
	Counts     string    `gorm:"type:text;not null;default:'{}'"`
	Error      string    `gorm:"not null;default:''"`
	StartedAt  time.Time `gorm:"autoCreateTime"`
	FinishedAt *time.Time
}

func (runModel) TableName() string { return "runs" }

func toBookingModel(b *store.Booking) (*bookingModel, error) {
	stops := b.Stops
	if stops == nil {
		stops = []string{}
	}
	raw, err := json.Marshal(stops)
	if err != nil {
		return nil, err
	}
	return &bookingModel{
		ID:              b.ID,
		BookingNumber:   b.BookingNumber,
		CustomerName:    b.CustomerName,
		CustomerEmail:   b.CustomerEmail,
		CustomerPhone:   b.CustomerPhone,
		PartySize:       b.PartySize,
		TourDate:        b.TourDate,
		StartTime:       b.StartTime,
		EndTime:         b.EndTime,
		DurationHours:   b.DurationHours,
		PickupLocation:  b.PickupLocation,
		DropoffLocation: b.DropoffLocation,
		Stops:           string(raw),
		SpecialRequests: b.SpecialRequests,
		DriverNotes:     b.DriverNotes,
		TotalPrice:      b.TotalPrice,
		Status:          b.Status,
		SourceTag:       b.SourceTag,
		DriverID:        b.DriverID,
		VehicleID:       b.VehicleID,
		TimeCardID:      b.TimeCardID,
	}, nil
}

func (m *bookingModel) toBooking() *store.Booking {
	b := &store.Booking{
		ID:              m.ID,
		BookingNumber:   m.BookingNumber,
		CustomerName:    m.CustomerName,
		CustomerEmail:   m.CustomerEmail,
		CustomerPhone:   m.CustomerPhone,
		PartySize:       m.PartySize,
		TourDate:        m.TourDate,
		StartTime:       m.StartTime,
		EndTime:         m.EndTime,
		DurationHours:   m.DurationHours,
		PickupLocation:  m.PickupLocation,
		DropoffLocation: m.DropoffLocation,
		SpecialRequests: m.SpecialRequests,
		DriverNotes:     m.DriverNotes,
		TotalPrice:      m.TotalPrice,
		Status:          m.Status,
		SourceTag:       m.SourceTag,
		DriverID:        m.DriverID,
		VehicleID:       m.VehicleID,
		TimeCardID:      m.TimeCardID,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if m.Stops != "" {
		json.Unmarshal([]byte(m.Stops), &b.Stops)
	}
	return b
}

func (m *timelineModel) toEntry() *store.TimelineEntry {
	e := &store.TimelineEntry{
		ID:          m.ID,
		BookingID:   m.BookingID,
		EventType:   m.EventType,
		Description: m.Description,
		Payload:     map[string]interface{}{},
		CreatedAt:   m.CreatedAt,
	}
	if m.SourceID != nil {
		e.SourceID = *m.SourceID
	}
	if m.Payload != "" {
		json.Unmarshal([]byte(m.Payload), &e.Payload)
	}
	return e
}

func (m *timeCardModel) toTimeCard() *store.TimeCard {
	return &store.TimeCard{
		ID:        m.ID,
		DriverID:  m.DriverID,
		WorkDate:  m.WorkDate,
		ClockIn:   m.ClockIn,
		ClockOut:  m.ClockOut,
		VehicleID: m.VehicleID,
	}
}

func (m *inspectionModel) toInspection() *store.Inspection {
	return &store.Inspection{
		ID:             m.ID,
		DriverID:       m.DriverID,
		VehicleID:      m.VehicleID,
		InspectionDate: m.InspectionDate,
		InspectionType: m.InspectionType,
		Passed:         m.Passed,
		Notes:          m.Notes,
	}
}

func (m *reviewItemModel) toReviewItem() *store.ReviewItem {
	item := &store.ReviewItem{
		ID:        m.ID,
		RunID:     m.RunID,
		Kind:      m.Kind,
		SourceID:  m.SourceID,
		Label:     m.Label,
		Reason:    m.Reason,
		Payload:   map[string]interface{}{},
		CreatedAt: m.CreatedAt,
	}
	if m.Payload != "" {
		json.Unmarshal([]byte(m.Payload), &item.Payload)
	}
	return item
}

func (m *runModel) toRun() *store.Run {
	r := &store.Run{
		ID:         m.ID,
		RunID:      m.RunID,
		Command:    m.Command,
		Source:     m.Source,
		DryRun:     m.DryRun,
		Status:     m.Status,
		Counts:     map[string]int{},
		Error:      m.Error,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
	}
	if m.Counts != "" {
		json.Unmarshal([]byte(m.Counts), &r.Counts)
	}
	return r
}
