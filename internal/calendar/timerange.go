package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout        = "2006-01-02"
	TimeLayout        = "15:04"
	TimeLayoutSeconds = "15:04:05"
)

var (
	ErrInvalidTimeRange = errors.New("invalid time range")
	ErrInvalidDate      = errors.New("invalid appointment date")
	ErrInvalidTime      = errors.New("invalid appointment time")
)

// TimeRange представляет временной интервал [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// NewTimeRange создаёт интервал и делает простую валидацию.
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return TimeRange{}, ErrInvalidTimeRange
	}
	return TimeRange{Start: start, End: end}, nil
}

// ParseLocal интерпретирует дату (ГГГГ-ММ-ДД) и время (ЧЧ:ММ или ЧЧ:ММ:СС)
// записи в часовом поясе бизнеса. Смещение в БД не хранится.
func ParseLocal(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	clock = strings.TrimSpace(clock)
	layout := TimeLayout
	if strings.Count(clock, ":") == 2 {
		layout = TimeLayoutSeconds
	}
	t, err := time.Parse(layout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, clock)
	}

	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
}

// ValidateSchedule проверяет формат пары дата/время без привязки к поясу.
func ValidateSchedule(date, clock string) error {
	_, err := ParseLocal(date, clock, time.UTC)
	return err
}

// FormatForUser форматирует начало записи в человекочитаемую строку.
func FormatForUser(date, clock string, loc *time.Location) string {
	start, err := ParseLocal(date, clock, loc)
	if err != nil {
		return strings.TrimSpace(date + " " + clock)
	}
	// Дата в формате ДД.ММ.ГГГГ, время ЧЧ:ММ
	return start.Format("02.01.2006 15:04")
}
