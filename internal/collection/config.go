package collection

import (
	"time"

	"github.com/aevon-lab/meterflow/internal/core/meter"
	"github.com/aevon-lab/meterflow/internal/worker"
)

// MinInterval is the shortest tick interval accepted at runtime.
const MinInterval = 5 * time.Second

const (
	defaultInterval         = 60 * time.Second
	defaultBatchSize        = 10
	defaultTimeout          = 10 * time.Second
	defaultPort             = 502
	defaultUnitID           = 1
	defaultStatsLogInterval = 5 * time.Minute
	defaultInitialDelay     = 2 * time.Second
	defaultBatchPause       = 100 * time.Millisecond
)

// Config controls the collection loop. NewScheduler fills every zero field
// with its default, so the rest of the package only sees populated values.
type Config struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
	Timeout   time.Duration // per meter, applied by the dispatcher

	DefaultIP     string
	DefaultPort   int
	DefaultUnitID int
	Registers     meter.RegisterMap

	// BatchInsert persists a tick's readings with one SaveReadings call.
	// Chunk size is a property of the store.
	BatchInsert bool

	LogSuccess       bool
	LogFailures      bool
	StatsLogInterval time.Duration

	InitialDelay time.Duration
	BatchPause   time.Duration
	Priority     worker.Priority
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		Interval:         defaultInterval,
		BatchSize:        defaultBatchSize,
		Timeout:          defaultTimeout,
		DefaultIP:        "127.0.0.1",
		DefaultPort:      defaultPort,
		DefaultUnitID:    defaultUnitID,
		Registers:        DefaultRegisters(),
		BatchInsert:      true,
		LogFailures:      true,
		StatsLogInterval: defaultStatsLogInterval,
		InitialDelay:     defaultInitialDelay,
		BatchPause:       defaultBatchPause,
		Priority:         worker.PriorityNormal,
	}
}

func (c Config) normalized() Config {
	n := c
	if n.Interval <= 0 {
		n.Interval = defaultInterval
	}
	if n.BatchSize <= 0 {
		n.BatchSize = defaultBatchSize
	}
	if n.Timeout <= 0 {
		n.Timeout = defaultTimeout
	}
	if n.DefaultPort <= 0 {
		n.DefaultPort = defaultPort
	}
	if n.DefaultUnitID <= 0 {
		n.DefaultUnitID = defaultUnitID
	}
	if len(n.Registers) == 0 {
		n.Registers = DefaultRegisters()
	}
	if n.StatsLogInterval <= 0 {
		n.StatsLogInterval = defaultStatsLogInterval
	}
	if n.InitialDelay <= 0 {
		n.InitialDelay = defaultInitialDelay
	}
	if n.BatchPause < 0 {
		n.BatchPause = 0
	}
	return n
}

func (c Config) connectionDefaults() meter.ConnectionParams {
	return meter.ConnectionParams{IP: c.DefaultIP, Port: c.DefaultPort, UnitID: c.DefaultUnitID}
}

// DefaultRegisters is the register layout of a common three-phase energy
// meter (Eastron SDM630 input register map, IEEE754 floats, function code 4).
func DefaultRegisters() meter.RegisterMap {
	return meter.RegisterMap{
		meter.RegVoltageL1:           {Address: 0, Words: 2, Scale: 1, Unit: "V", Table: meter.TableInput},
		meter.RegVoltageL2:           {Address: 2, Words: 2, Scale: 1, Unit: "V", Table: meter.TableInput},
		meter.RegVoltageL3:           {Address: 4, Words: 2, Scale: 1, Unit: "V", Table: meter.TableInput},
		meter.RegCurrentL1:           {Address: 6, Words: 2, Scale: 1, Unit: "A", Table: meter.TableInput},
		meter.RegCurrentL2:           {Address: 8, Words: 2, Scale: 1, Unit: "A", Table: meter.TableInput},
		meter.RegCurrentL3:           {Address: 10, Words: 2, Scale: 1, Unit: "A", Table: meter.TableInput},
		meter.RegVoltage:             {Address: 42, Words: 2, Scale: 1, Unit: "V", Table: meter.TableInput},
		meter.RegCurrent:             {Address: 48, Words: 2, Scale: 1, Unit: "A", Table: meter.TableInput},
		meter.RegPower:               {Address: 52, Words: 2, Scale: 1, Unit: "W", Table: meter.TableInput},
		meter.RegPowerFactor:         {Address: 62, Words: 2, Scale: 1, Unit: "", Table: meter.TableInput},
		meter.RegFrequency:           {Address: 70, Words: 2, Scale: 1, Unit: "Hz", Table: meter.TableInput},
		meter.RegEnergy:              {Address: 72, Words: 2, Scale: 1000, Unit: "Wh", Table: meter.TableInput},
		meter.RegTotalActiveEnergy:   {Address: 342, Words: 2, Scale: 1000, Unit: "Wh", Table: meter.TableInput},
		meter.RegTotalReactiveEnergy: {Address: 344, Words: 2, Scale: 1000, Unit: "VArh", Table: meter.TableInput},
		meter.RegTotalApparentEnergy: {Address: 346, Words: 2, Scale: 1000, Unit: "VAh", Table: meter.TableInput},
	}
}
