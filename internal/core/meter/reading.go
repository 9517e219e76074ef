package meter

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Quality flags recorded on every reading.
const (
	QualityGood    = "good"
	QualityPartial = "partial"
)

const (
	defaultSource = "modbus"
	defaultUnit   = "W"
	statusOK      = "ok"
)

var thousand = decimal.NewFromInt(1000)

// Reading is one collected snapshot of a meter.
// Missing device values are stored as zero; a reading is never rejected
// because optional fields are absent.
type Reading struct {
	ID             uuid.UUID
	MeterID        int64
	TenantID       int64
	MeterElementID int64
	Timestamp      time.Time

	Voltage     decimal.Decimal
	Current     decimal.Decimal
	Power       decimal.Decimal // W
	Energy      decimal.Decimal // Wh
	Frequency   decimal.Decimal
	PowerFactor decimal.Decimal

	VoltageL1 decimal.Decimal
	VoltageL2 decimal.Decimal
	VoltageL3 decimal.Decimal
	CurrentL1 decimal.Decimal
	CurrentL2 decimal.Decimal
	CurrentL3 decimal.Decimal

	TotalActiveEnergy   decimal.Decimal // Wh
	TotalReactiveEnergy decimal.Decimal // varh
	TotalApparentEnergy decimal.Decimal // VAh

	// Provenance
	Source   string
	DeviceIP string
	Quality  string
	Unit     string
	Status   string
}

// LegacyFields are the kilo-unit mirrors kept for older storage columns.
type LegacyFields struct {
	PowerKW             decimal.Decimal
	EnergyKWh           decimal.Decimal
	ActiveEnergyKWh     decimal.Decimal
	ReactiveEnergyKVArh decimal.Decimal
	ApparentEnergyKVAh  decimal.Decimal
}

// Legacy derives the kilo-unit mirrors from the base-unit fields.
func (r Reading) Legacy() LegacyFields {
	return LegacyFields{
		PowerKW:             r.Power.Div(thousand),
		EnergyKWh:           r.Energy.Div(thousand),
		ActiveEnergyKWh:     r.TotalActiveEnergy.Div(thousand),
		ReactiveEnergyKVArh: r.TotalReactiveEnergy.Div(thousand),
		ApparentEnergyKVAh:  r.TotalApparentEnergy.Div(thousand),
	}
}

// Validate ensures the identity attributes are present.
// Measurement fields are never validated.
func (r *Reading) Validate() error {
	if r.MeterID == 0 {
		return fmt.Errorf("meter_id is required")
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// coreRegisters decide the quality flag: a reading missing any of them is partial.
var coreRegisters = []string{RegVoltage, RegCurrent, RegPower, RegEnergy}

// NewReading normalizes raw worker values into a Reading for m.
// It never fails; absent values become zero and lower the quality flag.
func NewReading(m Meter, deviceIP string, data map[string]float64, at time.Time) Reading {
	r := Reading{
		ID:             uuid.New(),
		MeterID:        m.ID,
		TenantID:       m.TenantID,
		MeterElementID: m.EffectiveElementID(),
		Timestamp:      at.UTC(),

		Voltage:     ExtractDecimal(data, RegVoltage),
		Current:     ExtractDecimal(data, RegCurrent),
		Power:       ExtractDecimal(data, RegPower),
		Energy:      ExtractDecimal(data, RegEnergy),
		Frequency:   ExtractDecimal(data, RegFrequency),
		PowerFactor: ExtractDecimal(data, RegPowerFactor),

		VoltageL1: ExtractDecimal(data, RegVoltageL1),
		VoltageL2: ExtractDecimal(data, RegVoltageL2),
		VoltageL3: ExtractDecimal(data, RegVoltageL3),
		CurrentL1: ExtractDecimal(data, RegCurrentL1),
		CurrentL2: ExtractDecimal(data, RegCurrentL2),
		CurrentL3: ExtractDecimal(data, RegCurrentL3),

		TotalActiveEnergy:   ExtractDecimal(data, RegTotalActiveEnergy),
		TotalReactiveEnergy: ExtractDecimal(data, RegTotalReactiveEnergy),
		TotalApparentEnergy: ExtractDecimal(data, RegTotalApparentEnergy),

		Source:   defaultSource,
		DeviceIP: deviceIP,
		Quality:  QualityGood,
		Unit:     defaultUnit,
		Status:   statusOK,
	}

	for _, name := range coreRegisters {
		if _, ok := data[name]; !ok {
			r.Quality = QualityPartial
			break
		}
	}
	return r
}
