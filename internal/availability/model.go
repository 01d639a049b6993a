package availability

import "time"

const DateLayout = "2006-01-02"

type Day struct {
	OwnerID   int64     `db:"owner_id" json:"owner_id"`
	Date      time.Time `db:"day" json:"date"`
	Bits      Bits      `db:"bits" json:"-"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Window is a published open interval of one owner's day, in minutes from
// local midnight.
type Window struct {
	ID          int64     `db:"id" json:"id"`
	OwnerID     int64     `db:"owner_id" json:"owner_id"`
	Date        time.Time `db:"day" json:"date"`
	StartMinute int       `db:"start_minute" json:"start_minute"`
	EndMinute   int       `db:"end_minute" json:"end_minute"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

func (w Window) Duration() int {
	return w.EndMinute - w.StartMinute
}

type DayResponse struct {
	OwnerID int64       `json:"owner_id"`
	Date    string      `json:"date"`
	Open    []SlotRange `json:"open"`
	Windows []Window    `json:"windows"`
}

type PublishWindowRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime   string `json:"end_time" validate:"required,datetime=15:04"`
}

type CheckRequest struct {
	Date            string `form:"date" validate:"required,datetime=2006-01-02"`
	After           string `form:"after" validate:"omitempty,datetime=15:04"`
	Before          string `form:"before" validate:"omitempty,datetime=15:04"`
	DurationMinutes int    `form:"duration" validate:"required,gte=1,lte=1440"`
}

type CheckResponse struct {
	Available bool `json:"available"`
}

// ParseDate parses a calendar date into a UTC midnight.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func FormatClock(minuteOfDay int) string {
	return time.Date(0, 1, 1, 0, minuteOfDay, 0, 0, time.UTC).Format("15:04")
}

func dayKey(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
}
