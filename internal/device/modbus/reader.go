// Package modbus reads meter registers over Modbus-TCP.
package modbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/aldas/go-modbus-client"
	"github.com/aldas/go-modbus-client/packet"

	"github.com/aevon-lab/meterflow/internal/core/meter"
	"github.com/aevon-lab/meterflow/internal/worker"
)

// ErrNoRegisters is returned when a read is requested with an empty register map.
var ErrNoRegisters = errors.New("no registers to read")

type client interface {
	Connect(ctx context.Context, address string) error
	Do(ctx context.Context, req packet.Request) (packet.Response, error)
	Close() error
}

// Reader is a worker.DeviceReader that opens one TCP connection per read.
// The worker pool guarantees a device is never read concurrently.
type Reader struct {
	newClient func() client
}

// NewReader returns a reader that dials devices with the default TCP client.
func NewReader() *Reader {
	return &Reader{newClient: func() client { return modbus.NewTCPClient() }}
}

var _ worker.DeviceReader = (*Reader)(nil)

// ReadRegisters reads every register in the map from the target device and
// returns scaled values keyed by logical register name. Fields that fail to
// decode are logged and left out so a partial reading can still be stored.
func (r *Reader) ReadRegisters(ctx context.Context, target worker.Target, registers meter.RegisterMap) (map[string]float64, error) {
	if len(registers) == 0 {
		return nil, ErrNoRegisters
	}
	if target.UnitID < 0 || target.UnitID > 255 {
		return nil, fmt.Errorf("invalid unit id %d", target.UnitID)
	}

	addr := target.Address()
	requests, err := buildRequests(addr, uint8(target.UnitID), registers)
	if err != nil {
		return nil, err
	}

	c := r.newClient()
	if err := c.Connect(ctx, addr); err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	defer c.Close()

	out := make(map[string]float64, len(registers))
	for _, req := range requests {
		resp, err := c.Do(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", addr, err)
		}
		fields, err := req.ExtractFields(resp, true)
		if err != nil {
			slog.Warn("[Modbus] Partial field extraction", "address", addr, "error", err)
		}
		for _, f := range fields {
			if f.Error != nil {
				slog.Warn("[Modbus] Field decode failed", "address", addr, "field", f.Field.Name, "error", f.Error)
				continue
			}
			raw, err := toFloat(f.Value)
			if err != nil {
				slog.Warn("[Modbus] Unexpected field value", "address", addr, "field", f.Field.Name, "error", err)
				continue
			}
			out[f.Field.Name] = meter.Scale(raw, registers[f.Field.Name].Scale)
		}
	}
	return out, nil
}

// buildRequests groups registers by table; holding registers are read with
// function code 3 and input registers with function code 4.
func buildRequests(addr string, unitID uint8, registers meter.RegisterMap) ([]modbus.BuilderRequest, error) {
	builders := make(map[meter.Table]*modbus.Builder, 2)
	for _, name := range slices.Sorted(maps.Keys(registers)) {
		d := registers[name]
		ft, err := fieldType(d.Words)
		if err != nil {
			return nil, fmt.Errorf("register %q: %w", name, err)
		}
		table := d.Table.Resolved()
		b, ok := builders[table]
		if !ok {
			b = modbus.NewRequestBuilder(addr, unitID)
			builders[table] = b
		}
		b.AddField(modbus.Field{Name: name, Type: ft, Address: d.Address})
	}

	var requests []modbus.BuilderRequest
	for _, table := range []meter.Table{meter.TableHolding, meter.TableInput} {
		b, ok := builders[table]
		if !ok {
			continue
		}
		var (
			reqs []modbus.BuilderRequest
			err  error
		)
		switch table {
		case meter.TableInput:
			reqs, err = b.ReadInputRegistersTCP()
		default:
			reqs, err = b.ReadHoldingRegistersTCP()
		}
		if err != nil {
			return nil, fmt.Errorf("build %s register requests: %w", table, err)
		}
		requests = append(requests, reqs...)
	}
	if len(requests) == 0 {
		return nil, fmt.Errorf("build modbus requests: unsupported register table")
	}
	return requests, nil
}

// fieldType maps a register word count onto the decoded value type.
func fieldType(words int) (modbus.FieldType, error) {
	switch words {
	case 1:
		return modbus.FieldTypeUint16, nil
	case 2:
		return modbus.FieldTypeFloat32, nil
	case 4:
		return modbus.FieldTypeUint64, nil
	default:
		return 0, fmt.Errorf("unsupported word count %d", words)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case uint16:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}
