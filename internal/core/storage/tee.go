package storage

import (
	"context"
	"log/slog"

	"github.com/aevon-lab/meterflow/internal/core/meter"
)

// Tee writes readings to a primary store and mirrors them to secondaries.
// Only primary failures are returned; mirror failures are logged.
type Tee struct {
	primary ReadingStore
	mirrors []ReadingStore
}

// NewTee creates a tee over primary. Nil mirrors are ignored.
func NewTee(primary ReadingStore, mirrors ...ReadingStore) *Tee {
	t := &Tee{primary: primary}
	for _, m := range mirrors {
		if m != nil {
			t.mirrors = append(t.mirrors, m)
		}
	}
	return t
}

func (t *Tee) SaveReading(ctx context.Context, r meter.Reading) error {
	if err := t.primary.SaveReading(ctx, r); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		if err := m.SaveReading(ctx, r); err != nil {
			slog.Warn("[Tee] Mirror write failed", "meter_id", r.MeterID, "error", err)
		}
	}
	return nil
}

func (t *Tee) SaveReadings(ctx context.Context, rs []meter.Reading) error {
	if err := t.primary.SaveReadings(ctx, rs); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		if err := m.SaveReadings(ctx, rs); err != nil {
			slog.Warn("[Tee] Mirror batch write failed", "readings", len(rs), "error", err)
		}
	}
	return nil
}
