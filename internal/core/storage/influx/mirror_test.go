package influx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/meterflow/internal/core/meter"
)

// fakeWriteAPI overrides WritePoint; other methods are never called.
type fakeWriteAPI struct {
	api.WriteAPIBlocking
	points []*write.Point
	err    error
}

func (f *fakeWriteAPI) WritePoint(ctx context.Context, point ...*write.Point) error {
	f.points = append(f.points, point...)
	return f.err
}

func TestReadingPoint(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := meter.NewReading(meter.Meter{ID: 9, TenantID: 2}, "10.0.0.9", map[string]float64{
		meter.RegPower:  2500,
		meter.RegEnergy: 1000,
	}, at)

	p := ReadingPoint(r)
	require.Equal(t, measurement, p.Name())
	require.Equal(t, at, p.Time())

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	require.Equal(t, "9", tags["meter_id"])
	require.Equal(t, "2", tags["tenant_id"])
	require.Equal(t, "10.0.0.9", tags["device_ip"])

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	require.Equal(t, 2500.0, fields["power"])
	require.Equal(t, 2.5, fields["power_kw"])
	require.Equal(t, 1.0, fields["energy_kwh"])
}

func TestMirror_SaveReadings(t *testing.T) {
	fake := &fakeWriteAPI{}
	m := newMirror(nil, fake)

	rs := []meter.Reading{
		meter.NewReading(meter.Meter{ID: 1}, "a", nil, time.Now()),
		meter.NewReading(meter.Meter{ID: 2}, "b", nil, time.Now()),
	}
	require.NoError(t, m.SaveReadings(context.Background(), rs))
	require.Len(t, fake.points, 2)

	require.NoError(t, m.SaveReadings(context.Background(), nil))
	require.Len(t, fake.points, 2)
}

func TestMirror_SaveReadingWrapsError(t *testing.T) {
	fake := &fakeWriteAPI{err: errors.New("unauthorized")}
	m := newMirror(nil, fake)

	err := m.SaveReading(context.Background(), meter.NewReading(meter.Meter{ID: 1}, "a", nil, time.Now()))
	require.ErrorContains(t, err, "influx write 1 points")
}
