package service

import (
	"context"

	"backend-klinik/internal/models"
)

// Publisher receives a change notice after a booking or check-in commits.
// Publish must not block the caller.
type Publisher interface {
	Publish(doctorID string, date models.Date)
}

// Recorder counts operational events. Failures are the recorder's problem;
// the engines never look at them.
type Recorder interface {
	Booked(ctx context.Context, date models.Date)
	CheckedIn(ctx context.Context, date models.Date)
	Rejected(ctx context.Context, reason string, date models.Date)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, models.Date) {}

type nopRecorder struct{}

func (nopRecorder) Booked(context.Context, models.Date)            {}
func (nopRecorder) CheckedIn(context.Context, models.Date)         {}
func (nopRecorder) Rejected(context.Context, string, models.Date) {}
