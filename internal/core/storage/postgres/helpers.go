package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aevon-lab/meterflow/internal/core/meter"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanMeterRow scans a roster row into a Meter.
// Nullable columns map to zero values; registers is optional JSONB.
func scanMeterRow(row scanner) (meter.Meter, error) {
	var (
		m             meter.Meter
		location      sql.NullString
		elementID     sql.NullInt64
		ip            sql.NullString
		port          sql.NullInt64
		unitID        sql.NullInt64
		status        string
		registersJSON []byte
	)

	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.Type,
		&location,
		&m.TenantID,
		&elementID,
		&ip,
		&port,
		&unitID,
		&status,
		&registersJSON,
	)
	if err != nil {
		return meter.Meter{}, fmt.Errorf("failed to scan meter row: %w", err)
	}

	m.Location = location.String
	m.ElementID = elementID.Int64
	m.IP = ip.String
	m.Port = int(port.Int64)
	m.UnitID = int(unitID.Int64)
	m.Status = meter.Status(status)

	if len(registersJSON) > 0 && string(registersJSON) != "null" {
		var regs meter.RegisterMap
		if err := json.Unmarshal(registersJSON, &regs); err != nil {
			return meter.Meter{}, fmt.Errorf("failed to unmarshal registers for meter %d: %w", m.ID, err)
		}
		m.Registers = regs
	}

	return m, nil
}

// readingArgs flattens a reading into insert arguments in readingColumns order.
func readingArgs(r meter.Reading) []interface{} {
	legacy := r.Legacy()
	return []interface{}{
		r.ID.String(),
		r.MeterID,
		r.TenantID,
		r.MeterElementID,
		r.Timestamp,
		r.Voltage,
		r.Current,
		r.Power,
		r.Energy,
		r.Frequency,
		r.PowerFactor,
		r.VoltageL1,
		r.VoltageL2,
		r.VoltageL3,
		r.CurrentL1,
		r.CurrentL2,
		r.CurrentL3,
		r.TotalActiveEnergy,
		r.TotalReactiveEnergy,
		r.TotalApparentEnergy,
		legacy.PowerKW,
		legacy.EnergyKWh,
		legacy.ActiveEnergyKWh,
		legacy.ReactiveEnergyKVArh,
		legacy.ApparentEnergyKVAh,
		r.Source,
		r.DeviceIP,
		r.Quality,
		r.Unit,
		r.Status,
		r.Timestamp,
	}
}

// buildBatchInsert returns a multi-row insert for n readings.
func buildBatchInsert(n int) string {
	var b strings.Builder
	b.WriteString(queryBatchInsertPrefix)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < readingColumnCount; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(i*readingColumnCount + c + 1))
		}
		b.WriteByte(')')
	}
	b.WriteString(queryBatchInsertSuffix)
	return b.String()
}
