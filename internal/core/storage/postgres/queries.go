package postgres

// SQL queries for meter roster and reading storage

const (
	// queryActiveMeters fetches the collection roster.
	// Ordered by meter_id so batches are stable across ticks.
	queryActiveMeters = `
		SELECT
			meter_id, name, type, location, tenant_id, meter_element_id,
			ip_address, port, unit_id, status, registers
		FROM meters
		WHERE status = 'active'
		ORDER BY meter_id ASC
	`

	// readingColumns is the insert column list shared by single and batch inserts.
	// The *_kw / *_kwh / *_kvarh / *_kvah columns are legacy kilo-unit mirrors.
	readingColumns = `id, meter_id, tenant_id, meter_element_id, reading_timestamp,
			voltage, current, power, energy, frequency, power_factor,
			voltage_l1, voltage_l2, voltage_l3, current_l1, current_l2, current_l3,
			total_active_energy, total_reactive_energy, total_apparent_energy,
			power_kw, energy_kwh, active_energy_kwh, reactive_energy_kvarh, apparent_energy_kvah,
			source, device_ip, quality, unit, status, created_at`

	// readingColumnCount must match readingColumns and readingArgs.
	readingColumnCount = 31

	// queryInsertReading inserts one reading. ON CONFLICT guards against a
	// retried insert of the same reading id.
	queryInsertReading = `
		INSERT INTO meter_readings (
			` + readingColumns + `
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)
		ON CONFLICT (id) DO NOTHING
	`

	// queryBatchInsertPrefix is completed with one placeholder tuple per reading.
	queryBatchInsertPrefix = `
		INSERT INTO meter_readings (
			` + readingColumns + `
		)
		VALUES `

	queryBatchInsertSuffix = `
		ON CONFLICT (id) DO NOTHING`
)
