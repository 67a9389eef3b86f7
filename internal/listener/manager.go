package listener

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pixil98/go-log"

	"github.com/driftline/worldcore/internal/bootstrap"
	"github.com/driftline/worldcore/internal/engine"
)

const (
	SubjectBootstrap   = "engine.bootstrap"
	SubjectReadContext = "engine.read_context"
	SubjectPropose     = "engine.propose"
)

// Responder registers request handlers on the message bus.
type Responder interface {
	Serve(subject string, handler func(data []byte) []byte) (func(), error)
}

// Manager exposes engine operations as request/reply subjects on the bus.
// It is the process's only mutation surface; callers hold a bus connection,
// never the stores.
type Manager struct {
	engine *engine.Engine
	boot   *bootstrap.Manager
	bus    Responder

	unsubscribes []func()
}

func NewManager(eng *engine.Engine, boot *bootstrap.Manager, bus Responder) *Manager {
	return &Manager{
		engine: eng,
		boot:   boot,
		bus:    bus,
	}
}

// Start registers the handlers once the bus accepts subscriptions, then
// blocks until the context is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.register(ctx); err != nil {
		return err
	}

	log.GetLogger(ctx).Infof("engine api serving on %s, %s, %s",
		SubjectBootstrap, SubjectReadContext, SubjectPropose)

	<-ctx.Done()
	for _, unsub := range m.unsubscribes {
		unsub()
	}
	return nil
}

// register retries until the bus worker has started.
func (m *Manager) register(ctx context.Context) error {
	handlers := map[string]func([]byte) []byte{
		SubjectBootstrap:   m.handleBootstrap,
		SubjectReadContext: m.handleReadContext,
		SubjectPropose:     m.handlePropose,
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for subject, handler := range handlers {
		for {
			unsub, err := m.bus.Serve(subject, handler)
			if err == nil {
				m.unsubscribes = append(m.unsubscribes, unsub)
				break
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
	return nil
}

type bootstrapRequest struct {
	Player     string `json:"player"`
	Experience string `json:"experience"`
	Location   string `json:"location,omitempty"`
}

type contextRequest struct {
	Player     string `json:"player"`
	Experience string `json:"experience"`
}

type proposeRequest struct {
	Player     string          `json:"player"`
	Experience string          `json:"experience"`
	Mutation   engine.Mutation `json:"mutation"`
}

// response is the reply envelope for every subject.
type response struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (m *Manager) handleBootstrap(data []byte) []byte {
	var req bootstrapRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fail(err)
	}

	sess, err := m.boot.Bootstrap(context.Background(), req.Player, req.Experience, req.Location)
	if err != nil {
		return fail(err)
	}
	return ok(sess)
}

func (m *Manager) handleReadContext(data []byte) []byte {
	var req contextRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fail(err)
	}

	rc, err := m.engine.ReadContext(context.Background(), req.Player, req.Experience)
	if err != nil {
		return fail(err)
	}
	return ok(rc)
}

func (m *Manager) handlePropose(data []byte) []byte {
	var req proposeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fail(err)
	}

	res, err := m.engine.ProposeMutation(context.Background(), req.Player, req.Experience, req.Mutation)
	if err != nil {
		return fail(err)
	}
	return ok(res)
}

func ok(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return fail(err)
	}
	out, _ := json.Marshal(response{OK: true, Data: data})
	return out
}

func fail(err error) []byte {
	if err == nil {
		err = errors.New("unknown error")
	}
	out, _ := json.Marshal(response{Error: err.Error()})
	return out
}
