package modbus

import (
	"context"
	"errors"
	"testing"

	"github.com/aldas/go-modbus-client"
	"github.com/aldas/go-modbus-client/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/meterflow/internal/core/meter"
	"github.com/aevon-lab/meterflow/internal/worker"
)

type fakeClient struct {
	connectErr error
	doErr      error
	connected  string
	closed     bool
}

func (f *fakeClient) Connect(ctx context.Context, address string) error {
	f.connected = address
	return f.connectErr
}

func (f *fakeClient) Do(ctx context.Context, req packet.Request) (packet.Response, error) {
	return nil, f.doErr
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func testRegisters() meter.RegisterMap {
	return meter.RegisterMap{
		meter.RegVoltage: {Address: 0, Words: 2, Scale: 1, Unit: "V"},
		meter.RegPower:   {Address: 12, Words: 2, Scale: 1, Unit: "W"},
		meter.RegEnergy:  {Address: 342, Words: 4, Scale: 0.1, Unit: "Wh"},
	}
}

func TestReader_ConnectError(t *testing.T) {
	fake := &fakeClient{connectErr: errors.New("connection refused")}
	r := &Reader{newClient: func() client { return fake }}

	_, err := r.ReadRegisters(context.Background(), worker.Target{IP: "10.0.0.1", Port: 502, UnitID: 1}, testRegisters())
	require.ErrorContains(t, err, "connect 10.0.0.1:502")
	require.Equal(t, "10.0.0.1:502", fake.connected)
	require.False(t, fake.closed)
}

func TestReader_DoErrorClosesConnection(t *testing.T) {
	fake := &fakeClient{doErr: errors.New("i/o timeout")}
	r := &Reader{newClient: func() client { return fake }}

	_, err := r.ReadRegisters(context.Background(), worker.Target{IP: "10.0.0.1", Port: 502, UnitID: 1}, testRegisters())
	require.ErrorContains(t, err, "i/o timeout")
	require.True(t, fake.closed)
}

func TestReader_RejectsEmptyRegisters(t *testing.T) {
	r := NewReader()
	_, err := r.ReadRegisters(context.Background(), worker.Target{IP: "10.0.0.1", Port: 502}, nil)
	require.ErrorIs(t, err, ErrNoRegisters)
}

func TestReader_RejectsBadUnitID(t *testing.T) {
	r := NewReader()
	_, err := r.ReadRegisters(context.Background(), worker.Target{IP: "10.0.0.1", Port: 502, UnitID: 300}, testRegisters())
	require.ErrorContains(t, err, "invalid unit id")
}

func TestBuildRequests_GroupsFields(t *testing.T) {
	reqs, err := buildRequests("10.0.0.1:502", 1, testRegisters())
	require.NoError(t, err)
	require.NotEmpty(t, reqs)

	var names []string
	for _, req := range reqs {
		for _, f := range req.Fields {
			names = append(names, f.Name)
		}
	}
	assert.ElementsMatch(t, []string{meter.RegVoltage, meter.RegPower, meter.RegEnergy}, names)
}

func TestBuildRequests_UsesFunctionCodePerTable(t *testing.T) {
	regs := meter.RegisterMap{
		meter.RegVoltage: {Address: 0, Words: 2, Table: meter.TableInput},
		meter.RegPower:   {Address: 12, Words: 2, Table: meter.TableInput},
		meter.RegEnergy:  {Address: 4000, Words: 4},
	}
	reqs, err := buildRequests("10.0.0.1:502", 1, regs)
	require.NoError(t, err)

	tables := map[string][]string{}
	for _, req := range reqs {
		var kind string
		switch req.Request.(type) {
		case *packet.ReadInputRegistersRequestTCP:
			kind = "input"
		case *packet.ReadHoldingRegistersRequestTCP:
			kind = "holding"
		default:
			t.Fatalf("unexpected request type %T", req.Request)
		}
		for _, f := range req.Fields {
			tables[kind] = append(tables[kind], f.Name)
		}
	}
	assert.ElementsMatch(t, []string{meter.RegVoltage, meter.RegPower}, tables["input"])
	assert.Equal(t, []string{meter.RegEnergy}, tables["holding"])
}

func TestBuildRequests_RejectsWordCount(t *testing.T) {
	_, err := buildRequests("10.0.0.1:502", 1, meter.RegisterMap{"odd": {Address: 1, Words: 3}})
	require.ErrorContains(t, err, `register "odd"`)
}

func TestFieldType(t *testing.T) {
	ft, err := fieldType(1)
	require.NoError(t, err)
	assert.Equal(t, modbus.FieldTypeUint16, ft)

	ft, err = fieldType(2)
	require.NoError(t, err)
	assert.Equal(t, modbus.FieldTypeFloat32, ft)

	ft, err = fieldType(4)
	require.NoError(t, err)
	assert.Equal(t, modbus.FieldTypeUint64, ft)

	_, err = fieldType(3)
	require.Error(t, err)
}

func TestToFloat(t *testing.T) {
	v, err := toFloat(uint16(2301))
	require.NoError(t, err)
	assert.Equal(t, 2301.0, v)

	v, err = toFloat(float32(0.5))
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)

	_, err = toFloat("x")
	require.Error(t, err)
}
