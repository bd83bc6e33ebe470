package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/webveil/webveil/internal/infrastructure/logging"
	"github.com/webveil/webveil/internal/session"
)

// Phase names one of the three hook chains.
type Phase string

const (
	PhaseRequest  Phase = "request"
	PhaseResponse Phase = "response"
	PhaseError    Phase = "error"
)

func (p Phase) valid() bool {
	return p == PhaseRequest || p == PhaseResponse || p == PhaseError
}

// Request is the client-facing half of an exchange.
type Request struct {
	Method     string
	URL        string
	RemoteAddr string
	Header     http.Header
}

// Response is the origin-facing half of an exchange.
type Response struct {
	Status int
	Header http.Header
}

// Exchange is the mutable context threaded through one phase invocation.
// It is scoped to a single exchange and never shared across exchanges.
type Exchange struct {
	// ID correlates the exchange across phases and log lines.
	ID        string
	Request   *Request
	Response  *Response
	Body      []byte
	ProxyURL  string
	TargetURL string
	Session   *session.Session
	Err       error
}

// Handler is one pipeline hook. Returning an error aborts the phase.
type Handler func(ctx context.Context, exc *Exchange) error

// Pipeline holds the ordered handler chains.
type Pipeline struct {
	mu       sync.RWMutex
	phases   map[Phase][]Handler
	failures *prometheus.CounterVec
	logger   *logging.Logger
}

// New creates an empty pipeline.
func New(logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Pipeline{
		phases: map[Phase][]Handler{
			PhaseRequest:  nil,
			PhaseResponse: nil,
			PhaseError:    nil,
		},
		logger: logger,
	}
}

// InstrumentErrors counts handler failures on vec, which must carry a
// single phase label.
func (p *Pipeline) InstrumentErrors(vec *prometheus.CounterVec) {
	p.mu.Lock()
	p.failures = vec
	p.mu.Unlock()
}

// Use appends a handler to the named phase. Registering on an unknown
// phase is a programmer error and fails immediately.
func (p *Pipeline) Use(phase Phase, h Handler) error {
	if !phase.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownPhase, phase)
	}
	if h == nil {
		return fmt.Errorf("pipeline: nil handler for phase %q", phase)
	}
	p.mu.Lock()
	p.phases[phase] = append(p.phases[phase], h)
	p.mu.Unlock()
	return nil
}

// Execute runs the phase's handlers in registration order, each run to
// completion before the next starts. On failure the error phase runs
// once with the failure attached, then the original error is returned.
func (p *Pipeline) Execute(ctx context.Context, phase Phase, exc *Exchange) error {
	if !phase.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownPhase, phase)
	}

	p.mu.RLock()
	handlers := p.phases[phase]
	failures := p.failures
	p.mu.RUnlock()

	for i, h := range handlers {
		if err := h(ctx, exc); err != nil {
			if failures != nil {
				failures.WithLabelValues(string(phase)).Inc()
			}
			p.logger.Error("pipeline handler failed",
				zap.String("exchange_id", exc.ID),
				zap.String("phase", string(phase)),
				zap.Int("index", i),
				zap.Error(err),
			)
			if phase != PhaseError {
				exc.Err = err
				// The error chain's own failures are already logged
				// above; only the original failure propagates.
				_ = p.Execute(ctx, PhaseError, exc)
			}
			return err
		}
	}
	return nil
}

// Len returns the number of handlers registered on a phase.
func (p *Pipeline) Len(phase Phase) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.phases[phase])
}
