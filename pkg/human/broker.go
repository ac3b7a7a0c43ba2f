package human

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/sitebridge/pkg/logging"
	"github.com/entrhq/sitebridge/pkg/types"
)

// DefaultTimeout bounds a human step when the caller gives no timeout.
const DefaultTimeout = 5 * time.Minute

// ErrUnknownRequest is returned when completing an id that is not pending.
var ErrUnknownRequest = errors.New("no pending human request with that id")

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// Prompt is what adapter code asks a person to do.
type Prompt struct {
	AdapterID string
	Message   string
	PageURL   string
	Timeout   time.Duration
}

// Request is a published human step.
type Request struct {
	CreatedAt time.Time `json:"created_at"`
	Deadline  time.Time `json:"deadline"`
	ID        string    `json:"id"`
	AdapterID string    `json:"adapter_id"`
	Prompt    string    `json:"prompt"`
	PageURL   string    `json:"page_url,omitempty"`
	URL       string    `json:"url,omitempty"`
	Status    Status    `json:"status"`
}

// Waiter suspends a call until a person finishes a step.
type Waiter interface {
	Wait(ctx context.Context, p Prompt) error
}

// Presentation is a live rendering of a request.
type Presentation struct {
	// URL is where a person can acknowledge the request, if any.
	URL string
	// Stop tears the rendering down. It is called exactly once.
	Stop func()
}

// Presenter shows a pending request to a person. complete resolves exactly
// the presented request.
type Presenter interface {
	Present(ctx context.Context, req Request, complete func() error) (Presentation, error)
}

// Broker tracks pending human requests and resolves them by id.
type Broker struct {
	timeout   time.Duration
	pending   map[string]*pendingRequest
	presenter Presenter
	emit      types.EventSink
	log       *logging.Logger
	mu        sync.Mutex
}

// pendingRequest tracks a request that is waiting for a person
type pendingRequest struct {
	req       Request
	done      chan struct{}
	closeOnce sync.Once // Ensures done is closed exactly once
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithPresenter renders every new request, for example on a terminal.
func WithPresenter(p Presenter) BrokerOption {
	return func(b *Broker) { b.presenter = p }
}

// WithEventSink receives request lifecycle events.
func WithEventSink(sink types.EventSink) BrokerOption {
	return func(b *Broker) { b.emit = sink }
}

// WithLogger sets the broker logger.
func WithLogger(l *logging.Logger) BrokerOption {
	return func(b *Broker) { b.log = l }
}

// NewBroker creates a broker. A non-positive timeout means DefaultTimeout.
func NewBroker(timeout time.Duration, opts ...BrokerOption) *Broker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	b := &Broker{
		timeout: timeout,
		pending: make(map[string]*pendingRequest),
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Wait publishes a request and blocks until it is completed, its deadline
// passes, or ctx is canceled. Timeouts are reported with ErrHumanTimeout
// and are never retried.
func (b *Broker) Wait(ctx context.Context, p Prompt) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = b.timeout
	}
	now := time.Now()
	pr := &pendingRequest{
		req: Request{
			ID:        uuid.New().String(),
			AdapterID: p.AdapterID,
			Prompt:    p.Message,
			PageURL:   p.PageURL,
			Status:    StatusPending,
			CreatedAt: now,
			Deadline:  now.Add(timeout),
		},
		done: make(chan struct{}),
	}
	id := pr.req.ID

	b.mu.Lock()
	b.pending[id] = pr
	b.mu.Unlock()
	defer b.remove(id)

	if b.presenter != nil {
		pres, err := b.presenter.Present(ctx, pr.req, func() error { return b.Complete(id) })
		if err != nil {
			b.log.Errorf("human request %s: presenter failed: %v", id, err)
			return types.Wrap(types.CodeHumanRequired, types.ErrHumanUnavailable, "could not present human request")
		}
		if pres.Stop != nil {
			defer pres.Stop()
		}
		if pres.URL != "" {
			b.mu.Lock()
			pr.req.URL = pres.URL
			b.mu.Unlock()
		}
	}

	b.log.Infof("human request %s for %s: %s (deadline %s)", id, p.AdapterID, p.Message, pr.req.Deadline.Format(time.RFC3339))
	b.emitEvent(types.NewHumanRequestEvent(p.AdapterID, id, p.Message, pr.req.Deadline))

	return b.waitForCompletion(ctx, pr, timeout)
}

// waitForCompletion waits for the request's done channel
func (b *Broker) waitForCompletion(ctx context.Context, pr *pendingRequest, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		b.expire(pr)
		return fmt.Errorf("human request %s: %w", pr.req.ID, ctx.Err())

	case <-timer.C:
		b.expire(pr)
		// A completion that raced the timer still wins.
		select {
		case <-pr.done:
			return nil
		default:
		}
		b.log.Warnf("human request %s timed out after %s", pr.req.ID, timeout)
		b.emitEvent(types.NewHumanTimeoutEvent(pr.req.AdapterID, pr.req.ID))
		return types.Wrap(types.CodeUnknown, types.ErrHumanTimeout, "human step %q not completed within %s", pr.req.Prompt, timeout)

	case <-pr.done:
		b.emitEvent(types.NewHumanCompletedEvent(pr.req.AdapterID, pr.req.ID))
		return nil
	}
}

// Complete resolves the pending request with exactly this id. Unknown,
// completed, or expired ids are rejected and resolve nothing.
func (b *Broker) Complete(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pr, ok := b.pending[id]
	if !ok || pr.req.Status != StatusPending {
		return fmt.Errorf("complete %q: %w", id, ErrUnknownRequest)
	}
	if time.Now().After(pr.req.Deadline) {
		pr.req.Status = StatusExpired
		return fmt.Errorf("complete %q: request expired: %w", id, ErrUnknownRequest)
	}
	pr.req.Status = StatusCompleted
	pr.closeOnce.Do(func() { close(pr.done) })
	return nil
}

// Pending lists requests still waiting, oldest first.
func (b *Broker) Pending() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Request, 0, len(b.pending))
	for _, pr := range b.pending {
		if pr.req.Status == StatusPending {
			out = append(out, pr.req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns a tracked request by id.
func (b *Broker) Get(id string) (Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pr, ok := b.pending[id]
	if !ok {
		return Request{}, false
	}
	return pr.req, true
}

func (b *Broker) expire(pr *pendingRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pr.req.Status == StatusPending {
		pr.req.Status = StatusExpired
	}
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, id)
}

func (b *Broker) emitEvent(e *types.Event) {
	if b.emit != nil {
		b.emit(e)
	}
}

// Unattended fails every human step immediately so batch runs can skip
// adapters that need a person.
type Unattended struct{}

// Wait implements Waiter.
func (Unattended) Wait(_ context.Context, p Prompt) error {
	return types.Wrap(types.CodeHumanRequired, types.ErrHumanUnavailable, "human step %q requested in unattended mode", p.Message)
}
