// README: Payment status polling as an explicit, cancellable task.
package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"dukani/internal/modules/payment"
)

// DefaultPollInterval is the wait between payment status requests.
const DefaultPollInterval = 3 * time.Second

// StatusSource is the part of Client the poller needs.
type StatusSource interface {
	PaymentStatus(ctx context.Context, ref string) (payment.Status, error)
}

// PaymentPoller starts poll tasks and remembers which order references have
// reached a terminal status so they are never polled again.
type PaymentPoller struct {
	src      StatusSource
	interval time.Duration
	log      *zap.Logger

	mu       sync.Mutex
	terminal map[string]payment.Status
}

type PollerOption func(*PaymentPoller)

func WithInterval(d time.Duration) PollerOption {
	return func(p *PaymentPoller) { p.interval = d }
}

func WithPollerLogger(log *zap.Logger) PollerOption {
	return func(p *PaymentPoller) { p.log = log }
}

func NewPaymentPoller(src StatusSource, opts ...PollerOption) *PaymentPoller {
	p := &PaymentPoller{
		src:      src,
		interval: DefaultPollInterval,
		log:      zap.NewNop(),
		terminal: map[string]payment.Status{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Terminal returns the settled status of ref, if one was observed.
func (p *PaymentPoller) Terminal(ref string) (payment.Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.terminal[ref]
	return st, ok
}

// PollTask is one running poll. It ends on a terminal status, on Stop, or
// when the context passed to Start is cancelled.
type PollTask struct {
	ref    string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	status payment.Status
	err    error
}

// Start polls ref every interval, calling onUpdate (may be nil) after each
// successful request. A ref already seen terminal returns a finished task.
func (p *PaymentPoller) Start(ctx context.Context, ref string, onUpdate func(payment.Status)) *PollTask {
	ctx, cancel := context.WithCancel(ctx)
	t := &PollTask{ref: ref, cancel: cancel, done: make(chan struct{})}

	if st, ok := p.Terminal(ref); ok {
		t.status = st
		cancel()
		close(t.done)
		return t
	}
	go p.run(ctx, t, onUpdate)
	return t
}

func (p *PaymentPoller) run(ctx context.Context, t *PollTask, onUpdate func(payment.Status)) {
	defer close(t.done)
	defer t.cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.finish(payment.Status{}, ctx.Err())
			return
		case <-ticker.C:
		}

		st, err := p.src.PaymentStatus(ctx, t.ref)
		if err != nil {
			if ctx.Err() != nil {
				t.finish(payment.Status{}, ctx.Err())
				return
			}
			p.log.Warn("payment status poll failed", zap.String("order_ref", t.ref), zap.Error(err))
			continue
		}
		if onUpdate != nil {
			onUpdate(st)
		}
		if st.Terminal() {
			p.mu.Lock()
			p.terminal[t.ref] = st
			p.mu.Unlock()
			t.finish(st, nil)
			return
		}
	}
}

func (t *PollTask) finish(st payment.Status, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status, t.err = st, err
}

// Stop cancels the task and waits for it to exit. Safe to call repeatedly.
func (t *PollTask) Stop() {
	t.once.Do(t.cancel)
	<-t.done
}

func (t *PollTask) Done() <-chan struct{} { return t.done }

// Result is the terminal status, or the cancellation error when the task
// was stopped first. Only meaningful after Done is closed.
func (t *PollTask) Result() (payment.Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.err
}
