package helper

import (
	"time"

	"backend-klinik/internal/clock"
	"backend-klinik/internal/models"
)

// LoadLocation membaca timezone aplikasi, fallback ke UTC kalau nama zona tidak dikenal.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Today returns the current calendar day in loc according to c.
func Today(c clock.Clock, loc *time.Location) models.Date {
	return models.DateOf(c.Now().In(loc))
}

// IsToday cek apakah tanggal d sama dengan hari ini di zona loc.
func IsToday(c clock.Clock, loc *time.Location, d models.Date) bool {
	return Today(c, loc) == d
}
