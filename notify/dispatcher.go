package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

const (
	channelEmail = "email"
	channelSMS   = "sms"
)

type job struct {
	id      string
	channel string
	to      string
	code    string
}

// Config tunes the dispatcher's buffer and retry behavior.
type Config struct {
	BufferSize int           // default 64
	MaxRetries int           // default 2
	Backoff    time.Duration // default 500ms
}

// Dispatcher owns a single worker goroutine that drains a buffered job
// channel. Enqueue never blocks; when the buffer is full the job is
// dropped and counted, since an undelivered code is recoverable by a
// resend and a stalled login request is not.
type Dispatcher struct {
	cfg   Config
	email EmailSender
	sms   SMSSender
	log   *zap.Logger

	ch        chan job
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the worker and returns the Dispatcher. Nil
// senders are replaced with no-ops.
func NewDispatcher(cfg Config, email EmailSender, sms SMSSender, log *zap.Logger) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if email == nil {
		email = NoOpEmail{}
	}
	if sms == nil {
		sms = NoOpSMS{}
	}

	d := &Dispatcher{
		cfg:   cfg,
		email: email,
		sms:   sms,
		log:   log,
		ch:    make(chan job, cfg.BufferSize),
		done:  make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

// DeliverEmail enqueues an email delivery.
func (d *Dispatcher) DeliverEmail(ctx context.Context, to, code string) error {
	d.enqueue(job{id: ksuid.New().String(), channel: channelEmail, to: to, code: code})
	return nil
}

// DeliverSMS enqueues an SMS delivery.
func (d *Dispatcher) DeliverSMS(ctx context.Context, to, code string) error {
	d.enqueue(job{id: ksuid.New().String(), channel: channelSMS, to: to, code: code})
	return nil
}

func (d *Dispatcher) enqueue(j job) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- j:
	case <-d.done:
	default:
		d.dropped.Add(1)
		d.log.Warn("notify buffer full, dropping delivery",
			zap.String("job_id", j.id), zap.String("channel", j.channel))
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case j := <-d.ch:
			d.deliver(j)
		case <-d.done:
			for {
				select {
				case j := <-d.ch:
					d.deliver(j)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx := context.Background()

	var err error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(d.cfg.Backoff * time.Duration(attempt))
		}
		switch j.channel {
		case channelEmail:
			err = d.email.SendOTPEmail(ctx, j.to, j.code)
		case channelSMS:
			err = d.sms.SendOTPSMS(ctx, j.to, j.code)
		}
		if err == nil {
			return
		}
	}

	d.log.Error("otp delivery failed",
		zap.String("job_id", j.id),
		zap.String("channel", j.channel),
		zap.Error(err))
}

// Close drains buffered jobs and stops the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many deliveries were discarded on a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
