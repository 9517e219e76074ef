package meter

import (
	"fmt"
	"net"
	"strconv"
)

// Status is the lifecycle state of a meter in the registry.
// Only active meters are visited by the collection loop.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Logical register names understood by the normalizer.
const (
	RegVoltage             = "voltage"
	RegCurrent             = "current"
	RegPower               = "power"
	RegEnergy              = "energy"
	RegFrequency           = "frequency"
	RegPowerFactor         = "power_factor"
	RegVoltageL1           = "voltage_l1"
	RegVoltageL2           = "voltage_l2"
	RegVoltageL3           = "voltage_l3"
	RegCurrentL1           = "current_l1"
	RegCurrentL2           = "current_l2"
	RegCurrentL3           = "current_l3"
	RegTotalActiveEnergy   = "total_active_energy"
	RegTotalReactiveEnergy = "total_reactive_energy"
	RegTotalApparentEnergy = "total_apparent_energy"
)

// RegisterDescriptor locates one value on the device and says how to scale it
// into engineering units.
type RegisterDescriptor struct {
	Address uint16  `yaml:"address" json:"address" koanf:"address"`
	Words   int     `yaml:"words" json:"words" koanf:"words"`
	Scale   float64 `yaml:"scale" json:"scale" koanf:"scale"`
	Unit    string  `yaml:"unit" json:"unit" koanf:"unit"`
	Table   Table   `yaml:"table" json:"table,omitempty" koanf:"table"` // empty: holding
}

// Table is the Modbus register table a descriptor addresses.
type Table string

const (
	TableHolding Table = "holding" // function code 3
	TableInput   Table = "input"   // function code 4
)

// Resolved returns the table, treating empty as holding.
func (t Table) Resolved() Table {
	if t == "" {
		return TableHolding
	}
	return t
}

// RegisterMap maps logical register names to device descriptors.
type RegisterMap map[string]RegisterDescriptor

// Validate checks every descriptor has a usable word count.
func (m RegisterMap) Validate() error {
	for name, d := range m {
		switch d.Words {
		case 1, 2, 4:
		default:
			return fmt.Errorf("register %q: unsupported word count %d (must be 1, 2 or 4)", name, d.Words)
		}
		switch d.Table.Resolved() {
		case TableHolding, TableInput:
		default:
			return fmt.Errorf("register %q: unsupported table %q (must be holding or input)", name, d.Table)
		}
	}
	return nil
}

// Clone returns an independent copy so callers can hand the map to workers.
func (m RegisterMap) Clone() RegisterMap {
	out := make(RegisterMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Meter is the registry view of one physical or virtual meter.
// Read-only to the collection loop.
type Meter struct {
	ID        int64
	Name      string
	Type      string
	Location  string
	TenantID  int64
	ElementID int64 // meter element used to scope aggregation; defaults to ID
	IP        string
	Port      int
	UnitID    int
	Status    Status
	Registers RegisterMap
}

// Active reports whether the meter should be collected.
func (m Meter) Active() bool {
	return m.Status == StatusActive
}

// EffectiveElementID returns the meter element the meter's readings belong to.
func (m Meter) EffectiveElementID() int64 {
	if m.ElementID != 0 {
		return m.ElementID
	}
	return m.ID
}

// ConnectionParams is the resolved network target of a meter.
type ConnectionParams struct {
	IP     string
	Port   int
	UnitID int
}

// Address returns host:port suitable for dialing.
func (c ConnectionParams) Address() string {
	return net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}

// ResolveConnection applies meter-specific overrides on top of defaults.
func (m Meter) ResolveConnection(defaults ConnectionParams) ConnectionParams {
	params := defaults
	if m.IP != "" {
		params.IP = m.IP
	}
	if m.Port > 0 {
		params.Port = m.Port
	}
	if m.UnitID > 0 {
		params.UnitID = m.UnitID
	}
	return params
}
