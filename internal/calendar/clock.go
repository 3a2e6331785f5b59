package calendar

import "time"

// Clock: источник "сейчас" для движка.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock всегда возвращает одно и то же время (тесты, CLI --now).
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }
