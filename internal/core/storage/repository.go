package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/aevon-lab/meterflow/internal/core/meter"
)

// ErrNoReadings is returned when a batch insert is asked to persist nothing.
var ErrNoReadings = errors.New("no readings to persist")

// MeterRoster is the registry view the collection loop reads from.
type MeterRoster interface {
	// ActiveMeters returns meters with active status ordered by meter id.
	ActiveMeters(ctx context.Context) ([]meter.Meter, error)
}

// ReadingStore persists collected readings. Readings are immutable once saved.
type ReadingStore interface {
	SaveReading(ctx context.Context, r meter.Reading) error

	// SaveReadings persists all readings in one operation; either all are
	// stored or none are.
	SaveReadings(ctx context.Context, rs []meter.Reading) error
}

// Querier executes a parameterized read query. *sql.DB satisfies it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}
