package worker

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/aevon-lab/meterflow/internal/core/meter"
)

// MessageCollectMeterData asks a worker to read all registers of one meter.
const MessageCollectMeterData = "collectMeterData"

// Priority orders messages within a worker lane.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// MeterIdentity identifies the meter a message is about.
type MeterIdentity struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Target is the network address of a device.
type Target struct {
	IP     string `json:"ip"`
	Port   int    `json:"port"`
	UnitID int    `json:"unitId"`
}

// Address returns host:port.
func (t Target) Address() string {
	return net.JoinHostPort(t.IP, strconv.Itoa(t.Port))
}

// Payload is the body of a collectMeterData message.
type Payload struct {
	Meter     MeterIdentity     `json:"meter"`
	Config    Target            `json:"config"`
	Registers meter.RegisterMap `json:"registers"`
}

// Message is the typed request handed to a Dispatcher.
type Message struct {
	Type     string        `json:"type"`
	Payload  Payload       `json:"payload"`
	Priority Priority      `json:"priority"`
	Timeout  time.Duration `json:"timeout"`
}

// Response is what a worker reports back. Data holds scaled register values
// keyed by logical register name.
type Response struct {
	Success bool               `json:"success"`
	Data    map[string]float64 `json:"data,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// Dispatcher sends a message to a worker and waits for its response.
// A non-nil error means the message could not be delivered or answered in time.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) (Response, error)
}

// DeviceReader talks to one device.
type DeviceReader interface {
	ReadRegisters(ctx context.Context, target Target, registers meter.RegisterMap) (map[string]float64, error)
}
