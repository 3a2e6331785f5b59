package calendar

import "time"

// Rules: правила времени, по которым движок двигает статусы.
type Rules struct {
	Location *time.Location

	// Подтверждать pending, когда now >= start - AutoConfirmLead.
	AutoConfirmLead time.Duration
	// Длительность услуги, если у неё не задано своё значение.
	DefaultDuration time.Duration
	// completed уходит в archived спустя ArchiveAfter после завершения.
	ArchiveAfter time.Duration
	// TRIAL_DAYS в виде длительности.
	TrialLength time.Duration
	// Период продления подписки при активации.
	RenewalPeriod time.Duration
}

func DefaultRules() Rules {
	return Rules{
		Location:        time.UTC,
		AutoConfirmLead: 0,
		DefaultDuration: 60 * time.Minute,
		ArchiveAfter:    7 * 24 * time.Hour,
		TrialLength:     14 * 24 * time.Hour,
		RenewalPeriod:   30 * 24 * time.Hour,
	}
}

func (r Rules) loc() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// Start: начало записи в поясе бизнеса.
func (r Rules) Start(date, clock string) (time.Time, error) {
	return ParseLocal(date, clock, r.loc())
}

// Window: интервал записи: начало + длительность услуги.
func (r Rules) Window(date, clock string, duration time.Duration) (TimeRange, error) {
	start, err := r.Start(date, clock)
	if err != nil {
		return TimeRange{}, err
	}
	if duration <= 0 {
		duration = r.DefaultDuration
	}
	return NewTimeRange(start, start.Add(duration))
}

// ShouldConfirm: начало уже наступило (или попало в окно AutoConfirmLead).
func (r Rules) ShouldConfirm(start, now time.Time) bool {
	return !now.Before(start.Add(-r.AutoConfirmLead))
}

// ShouldComplete: окончание строго в прошлом.
func (r Rules) ShouldComplete(end, now time.Time) bool {
	return end.Before(now)
}

// ShouldArchive: завершена строго раньше, чем ArchiveAfter назад.
func (r Rules) ShouldArchive(completedAt, now time.Time) bool {
	return completedAt.Before(now.Add(-r.ArchiveAfter))
}

// TrialExpired: с создания профиля прошло не меньше TrialLength.
func (r Rules) TrialExpired(createdAt, now time.Time) bool {
	return now.Sub(createdAt) >= r.TrialLength
}

// RenewalDate считается от текущего момента, а не от прошлого значения.
func (r Rules) RenewalDate(now time.Time) time.Time {
	return now.Add(r.RenewalPeriod)
}

// DateKey: дата в поясе бизнеса в формате хранения (для фильтров выборки).
func (r Rules) DateKey(t time.Time) string {
	return t.In(r.loc()).Format(DateLayout)
}

// ConfirmHorizon: последняя дата, на которой ещё могут быть кандидаты в confirmed.
func (r Rules) ConfirmHorizon(now time.Time) string {
	return r.DateKey(now.Add(r.AutoConfirmLead))
}

// ArchiveCutoff: момент, раньше которого завершённые записи архивируются.
func (r Rules) ArchiveCutoff(now time.Time) time.Time {
	return now.Add(-r.ArchiveAfter)
}
