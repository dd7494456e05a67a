package lifecycle

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InferRequest/InferResult are the opaque inference payload the Lifecycle
// Manager's backends accept; the Inference Executor (internal/inference)
// builds these from the wire-level request in spec.md §6.
type InferRequest struct {
	Prompt         string
	MaxTokens      int
	Temperature    float64
	ConversationID string
}

type InferResult struct {
	Text            string
	TokensGenerated int
}

// Backend is the capability set shared by every serving-method variant
// (spec.md §9: "share a capability set {load, unload, infer,
// probe_health} but differ in implementation... a tagged variant with
// per-variant state, not an inheritance hierarchy"). The coordinator core
// never touches a real ML framework; Backend stands in for whatever real
// engine a deployment wires in.
type Backend interface {
	Load(ctx context.Context, d Descriptor, vramMB int64) (handle string, err error)
	Unload(ctx context.Context, handle string) error
	Infer(ctx context.Context, handle string, req InferRequest) (InferResult, error)
	ProbeHealth(handle string) error
}

// BackendFactory resolves the Backend variant for a descriptor's
// serving method.
type BackendFactory func(method ServingMethod) Backend

// NewDefaultBackendFactory returns the opaque, in-process simulated
// backend for local-direct/local-server/remote-rpc methods and the
// publish/subscribe health-tracking variant for remote-pubsub-health,
// exactly the four variants spec.md §3 enumerates.
func NewDefaultBackendFactory() BackendFactory {
	pubsub := newPubSubHealthBackend()
	sim := &simulatedBackend{}
	return func(method ServingMethod) Backend {
		if method == ServingRemotePubSubHealth {
			return pubsub
		}
		return sim
	}
}

// simulatedBackend opaquely "loads" and "infers" without touching a real
// ML framework: load/unload simply allocate/release a handle, and infer
// echoes the prompt in a fixed-format text with a token count drawn at
// random from [1, max_tokens]. This is the
// seam a real deployment replaces with llama.cpp/vLLM/remote-RPC clients.
type simulatedBackend struct{}

func (simulatedBackend) Load(ctx context.Context, d Descriptor, vramMB int64) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return uuid.NewString(), nil
}

func (simulatedBackend) Unload(ctx context.Context, handle string) error {
	return nil
}

func (simulatedBackend) Infer(ctx context.Context, handle string, req InferRequest) (InferResult, error) {
	select {
	case <-ctx.Done():
		return InferResult{}, ctx.Err()
	default:
	}
	n := req.MaxTokens
	if n <= 0 {
		n = 1
	}
	tokens := 1 + rand.Intn(n)
	return InferResult{
		Text:            fmt.Sprintf("[simulated response to %q]", req.Prompt),
		TokensGenerated: tokens,
	}, nil
}

func (simulatedBackend) ProbeHealth(handle string) error {
	return nil
}

// pubSubHealthBackend implements spec.md §9's asynchronous health
// probing: maintain a last-matching-message timestamp per model,
// evaluated on demand rather than by an active round-trip probe.
type pubSubHealthBackend struct {
	mu          sync.Mutex
	lastMessage map[string]time.Time
	timeout     time.Duration
}

func newPubSubHealthBackend() *pubSubHealthBackend {
	return &pubSubHealthBackend{
		lastMessage: map[string]time.Time{},
		timeout:     30 * time.Second,
	}
}

func (b *pubSubHealthBackend) Load(ctx context.Context, d Descriptor, vramMB int64) (string, error) {
	b.mu.Lock()
	b.lastMessage[d.Name] = time.Now()
	b.mu.Unlock()
	return d.Name, nil
}

func (b *pubSubHealthBackend) Unload(ctx context.Context, handle string) error {
	b.mu.Lock()
	delete(b.lastMessage, handle)
	b.mu.Unlock()
	return nil
}

func (b *pubSubHealthBackend) Infer(ctx context.Context, handle string, req InferRequest) (InferResult, error) {
	b.OnMessage(handle)
	n := req.MaxTokens
	if n <= 0 {
		n = 1
	}
	return InferResult{Text: fmt.Sprintf("[pubsub response to %q]", req.Prompt), TokensGenerated: 1 + rand.Intn(n)}, nil
}

// OnMessage records a matching message arrival for handle, called by the
// subscriber side of the pub/sub transport whenever a message matches a
// model's subject.
func (b *pubSubHealthBackend) OnMessage(handle string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastMessage[handle] = time.Now()
}

func (b *pubSubHealthBackend) ProbeHealth(handle string) error {
	b.mu.Lock()
	last, ok := b.lastMessage[handle]
	b.mu.Unlock()
	if !ok || time.Since(last) > b.timeout {
		return fmt.Errorf("no matching message within %s", b.timeout)
	}
	return nil
}
