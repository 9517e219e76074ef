package influx

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/aevon-lab/meterflow/internal/core/meter"
)

const measurement = "meter_reading"

// Config holds InfluxDB v2 connection settings.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Mirror writes persisted readings to InfluxDB as time-series points.
// It is used as a secondary store behind storage.Tee.
type Mirror struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewMirror initializes the InfluxDB client and verifies connectivity.
func NewMirror(ctx context.Context, cfg Config) (*Mirror, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	slog.Info("[Influx] Mirror connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return newMirror(client, client.WriteAPIBlocking(cfg.Org, cfg.Bucket)), nil
}

func newMirror(client influxdb2.Client, writeAPI api.WriteAPIBlocking) *Mirror {
	return &Mirror{client: client, writeAPI: writeAPI}
}

// SaveReading writes one reading point.
func (m *Mirror) SaveReading(ctx context.Context, r meter.Reading) error {
	return m.SaveReadings(ctx, []meter.Reading{r})
}

// SaveReadings writes all readings in one blocking request.
func (m *Mirror) SaveReadings(ctx context.Context, rs []meter.Reading) error {
	if len(rs) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(rs))
	for _, r := range rs {
		points = append(points, ReadingPoint(r))
	}
	if err := m.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write %d points: %w", len(points), err)
	}
	return nil
}

// ReadingPoint converts a reading into a line-protocol point.
func ReadingPoint(r meter.Reading) *write.Point {
	legacy := r.Legacy()
	tags := map[string]string{
		"meter_id":         strconv.FormatInt(r.MeterID, 10),
		"tenant_id":        strconv.FormatInt(r.TenantID, 10),
		"meter_element_id": strconv.FormatInt(r.MeterElementID, 10),
		"device_ip":        r.DeviceIP,
		"quality":          r.Quality,
		"source":           r.Source,
	}
	fields := map[string]interface{}{
		"voltage":               r.Voltage.InexactFloat64(),
		"current":               r.Current.InexactFloat64(),
		"power":                 r.Power.InexactFloat64(),
		"energy":                r.Energy.InexactFloat64(),
		"frequency":             r.Frequency.InexactFloat64(),
		"power_factor":          r.PowerFactor.InexactFloat64(),
		"voltage_l1":            r.VoltageL1.InexactFloat64(),
		"voltage_l2":            r.VoltageL2.InexactFloat64(),
		"voltage_l3":            r.VoltageL3.InexactFloat64(),
		"current_l1":            r.CurrentL1.InexactFloat64(),
		"current_l2":            r.CurrentL2.InexactFloat64(),
		"current_l3":            r.CurrentL3.InexactFloat64(),
		"total_active_energy":   r.TotalActiveEnergy.InexactFloat64(),
		"total_reactive_energy": r.TotalReactiveEnergy.InexactFloat64(),
		"total_apparent_energy": r.TotalApparentEnergy.InexactFloat64(),
		"power_kw":              legacy.PowerKW.InexactFloat64(),
		"energy_kwh":            legacy.EnergyKWh.InexactFloat64(),
	}
	return write.NewPoint(measurement, tags, fields, r.Timestamp)
}

// Close closes the InfluxDB client.
func (m *Mirror) Close() {
	m.client.Close()
}
