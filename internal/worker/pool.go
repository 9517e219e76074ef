package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aevon-lab/meterflow/internal/core/partition"
)

var (
	// ErrPoolStopped is returned when dispatching to a pool that is not running.
	ErrPoolStopped = errors.New("worker pool stopped")
)

const (
	defaultLanes           = 8
	defaultQueueSize       = 64
	defaultRetryBackoff    = 500 * time.Millisecond
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
)

// PoolConfig controls lane count, queueing and retry behaviour.
type PoolConfig struct {
	Lanes           int
	QueueSize       int
	RetryAttempts   int
	RetryBackoff    time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (c PoolConfig) normalized() PoolConfig {
	n := c
	if n.Lanes <= 0 {
		n.Lanes = defaultLanes
	}
	if n.QueueSize <= 0 {
		n.QueueSize = defaultQueueSize
	}
	if n.RetryAttempts < 0 {
		n.RetryAttempts = 0
	}
	if n.RetryBackoff <= 0 {
		n.RetryBackoff = defaultRetryBackoff
	}
	if n.BreakerFailures == 0 {
		n.BreakerFailures = defaultBreakerFailures
	}
	if n.BreakerCooldown <= 0 {
		n.BreakerCooldown = defaultBreakerCooldown
	}
	return n
}

type job struct {
	ctx   context.Context
	msg   Message
	reply chan Response
}

type lane struct {
	high   chan *job
	normal chan *job
}

// Pool is a message-passing Dispatcher backed by a fixed set of lanes.
// Each device address is pinned to one lane, so a device never sees two
// concurrent connections from this process.
type Pool struct {
	cfg    PoolConfig
	reader DeviceReader
	lanes  []*lane

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	running  bool
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewPool creates a pool. Call Start before dispatching.
func NewPool(reader DeviceReader, cfg PoolConfig) *Pool {
	cfg = cfg.normalized()
	p := &Pool{
		cfg:      cfg,
		reader:   reader,
		lanes:    make([]*lane, cfg.Lanes),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	for i := range p.lanes {
		p.lanes[i] = &lane{
			high:   make(chan *job, cfg.QueueSize),
			normal: make(chan *job, cfg.QueueSize),
		}
	}
	return p
}

// Start launches one goroutine per lane.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.quit = make(chan struct{})

	for i, l := range p.lanes {
		p.wg.Add(1)
		go p.runLane(i, l, p.quit)
	}

	slog.Info("[WorkerPool] Started",
		"lanes", p.cfg.Lanes,
		"queue_size", p.cfg.QueueSize,
		"retry_attempts", p.cfg.RetryAttempts,
	)
}

// Stop signals all lanes to exit and waits for in-flight jobs to finish.
// Queued jobs that were not picked up are answered by their callers' deadlines.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.quit)
	p.mu.Unlock()

	p.wg.Wait()
	slog.Info("[WorkerPool] Stopped")
}

// Dispatch routes msg to its device lane and waits for the response.
// The message timeout starts when a lane picks the job up, so time spent
// queued behind another device on the same lane never eats into this
// meter's budget. ctx bounds the whole wait, queueing included.
func (p *Pool) Dispatch(ctx context.Context, msg Message) (Response, error) {
	if msg.Type != MessageCollectMeterData {
		return Response{Success: false, Error: fmt.Sprintf("unknown message type %q", msg.Type)}, nil
	}

	p.mu.Lock()
	running, quit := p.running, p.quit
	p.mu.Unlock()
	if !running {
		return Response{}, ErrPoolStopped
	}

	j := &job{ctx: ctx, msg: msg, reply: make(chan Response, 1)}
	l := p.lanes[partition.For(msg.Payload.Config.Address(), len(p.lanes))]
	queue := l.normal
	if msg.Priority >= PriorityHigh {
		queue = l.high
	}

	select {
	case queue <- j:
	case <-ctx.Done():
		return Response{}, fmt.Errorf("dispatch meter %d: enqueue: %w", msg.Payload.Meter.ID, ctx.Err())
	case <-quit:
		return Response{}, ErrPoolStopped
	}

	select {
	case resp := <-j.reply:
		return resp, nil
	case <-ctx.Done():
		return Response{}, fmt.Errorf("dispatch meter %d: %w", msg.Payload.Meter.ID, ctx.Err())
	case <-quit:
		// Stop waits for in-flight jobs, so a handled job has replied by now.
		select {
		case resp := <-j.reply:
			return resp, nil
		default:
			return Response{}, ErrPoolStopped
		}
	}
}

func (p *Pool) runLane(id int, l *lane, quit <-chan struct{}) {
	defer p.wg.Done()
	for {
		// High-priority work always drains first.
		select {
		case j := <-l.high:
			p.handle(j)
			continue
		default:
		}

		select {
		case <-quit:
			slog.Debug("[WorkerPool] Lane exiting", "lane", id)
			return
		case j := <-l.high:
			p.handle(j)
		case j := <-l.normal:
			p.handle(j)
		}
	}
}

func (p *Pool) handle(j *job) {
	if err := j.ctx.Err(); err != nil {
		j.reply <- Response{Success: false, Error: err.Error()}
		return
	}

	ctx := j.ctx
	if j.msg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.msg.Timeout)
		defer cancel()
	}
	j.reply <- p.collect(ctx, j.msg.Payload)
}

// collect reads the device with retries. Retries stop early when the device
// breaker is open or the message deadline passes.
func (p *Pool) collect(ctx context.Context, payload Payload) Response {
	breaker := p.breakerFor(payload.Config.Address())

	var lastErr error
	for attempt := 0; attempt <= p.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Response{Success: false, Error: fmt.Sprintf("%v (last error: %v)", ctx.Err(), lastErr)}
			case <-time.After(time.Duration(attempt) * p.cfg.RetryBackoff):
			}
		}

		result, err := breaker.Execute(func() (interface{}, error) {
			return p.reader.ReadRegisters(ctx, payload.Config, payload.Registers)
		})
		if err == nil {
			data, _ := result.(map[string]float64)
			return Response{Success: true, Data: data}
		}

		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		slog.Debug("[WorkerPool] Device read failed",
			"meter_id", payload.Meter.ID,
			"address", payload.Config.Address(),
			"attempt", attempt+1,
			"error", err,
		)
	}

	return Response{Success: false, Error: lastErr.Error()}
}

func (p *Pool) breakerFor(addr string) *gobreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cb, ok := p.breakers[addr]; ok {
		return cb
	}
	threshold := p.cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        addr,
		MaxRequests: 1,
		Timeout:     p.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("[WorkerPool] Device breaker state change", "address", name, "from", from.String(), "to", to.String())
		},
	})
	p.breakers[addr] = cb
	return cb
}
