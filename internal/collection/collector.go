package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aevon-lab/meterflow/internal/core/meter"
	"github.com/aevon-lab/meterflow/internal/worker"
)

// ErrMalformedResponse is returned when a worker reports success without data.
var ErrMalformedResponse = errors.New("malformed worker response")

// Collector reads one meter through the worker dispatch layer and turns the
// worker's raw values into a Reading.
type Collector struct {
	dispatcher  worker.Dispatcher
	defaults    meter.ConnectionParams
	registers   meter.RegisterMap
	profiles    *meter.ProfileRepository
	timeout     time.Duration
	priority    worker.Priority
	logSuccess  bool
	logFailures bool
	now         func() time.Time
}

// NewCollector builds a collector. profiles may be nil.
func NewCollector(dispatcher worker.Dispatcher, cfg Config, profiles *meter.ProfileRepository) *Collector {
	cfg = cfg.normalized()
	return &Collector{
		dispatcher:  dispatcher,
		defaults:    cfg.connectionDefaults(),
		registers:   cfg.Registers,
		profiles:    profiles,
		timeout:     cfg.Timeout,
		priority:    cfg.Priority,
		logSuccess:  cfg.LogSuccess,
		logFailures: cfg.LogFailures,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Collect dispatches a read for m and normalizes the result. Missing fields
// in the worker data default to zero; only transport and worker failures
// return an error. The per-meter timeout travels on the message and is
// applied by the dispatcher when the device read starts.
func (c *Collector) Collect(ctx context.Context, m meter.Meter) (meter.Reading, error) {
	params := m.ResolveConnection(c.defaults)

	msg := worker.Message{
		Type: worker.MessageCollectMeterData,
		Payload: worker.Payload{
			Meter:     worker.MeterIdentity{ID: m.ID, Name: m.Name, Type: m.Type},
			Config:    worker.Target{IP: params.IP, Port: params.Port, UnitID: params.UnitID},
			Registers: c.registersFor(m),
		},
		Priority: c.priority,
		Timeout:  c.timeout,
	}

	resp, err := c.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		c.logFailure(m, params, err)
		return meter.Reading{}, fmt.Errorf("meter %d: dispatch: %w", m.ID, err)
	}
	if !resp.Success {
		reason := resp.Error
		if reason == "" {
			reason = "worker reported failure"
		}
		err := fmt.Errorf("meter %d: %s", m.ID, reason)
		c.logFailure(m, params, err)
		return meter.Reading{}, err
	}
	if resp.Data == nil {
		err := fmt.Errorf("meter %d: %w: no data", m.ID, ErrMalformedResponse)
		c.logFailure(m, params, err)
		return meter.Reading{}, err
	}

	reading := meter.NewReading(m, params.IP, resp.Data, c.now())
	if c.logSuccess {
		slog.Info("[Collector] Meter read",
			"meter_id", m.ID,
			"address", params.Address(),
			"fields", len(resp.Data),
			"quality", reading.Quality,
		)
	}
	return reading, nil
}

// registersFor picks the meter's own map, then its type profile, then the
// configured default map.
func (c *Collector) registersFor(m meter.Meter) meter.RegisterMap {
	if len(m.Registers) > 0 {
		return m.Registers.Clone()
	}
	if regs, ok := c.profiles.Lookup(m.Type); ok {
		return regs.Clone()
	}
	return c.registers.Clone()
}

func (c *Collector) logFailure(m meter.Meter, params meter.ConnectionParams, err error) {
	if !c.logFailures {
		return
	}
	slog.Warn("[Collector] Meter read failed",
		"meter_id", m.ID,
		"meter_name", m.Name,
		"address", params.Address(),
		"error", err,
	)
}
