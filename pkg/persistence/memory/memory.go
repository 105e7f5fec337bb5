// Package memory provides the in-process persistence implementation used by
// tests and local development.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dukex/herald/pkg/persistence"
)

// Persistence keeps every repository in process memory, guarded by one
// mutex. Values are deep-copied on the way in and out so callers never share
// state with the store.
type Persistence struct {
	mu sync.RWMutex

	workflows        *WorkflowRepository
	jobs             *JobRepository
	messages         *MessageRepository
	subscribers      *SubscriberRepository
	integrations     *IntegrationRepository
	executionDetails *ExecutionDetailRepository
}

func NewPersistence() *Persistence {
	p := &Persistence{}

	p.workflows = &WorkflowRepository{store: p, items: make(map[string]string)}
	p.jobs = &JobRepository{store: p, items: make(map[string]string)}
	p.messages = &MessageRepository{store: p, items: make(map[string]string)}
	p.subscribers = &SubscriberRepository{store: p, items: make(map[string]string)}
	p.integrations = &IntegrationRepository{store: p, items: make(map[string]string)}
	p.executionDetails = &ExecutionDetailRepository{store: p, items: make(map[string]string), order: []string{}}

	return p
}

func (p *Persistence) Workflows() persistence.WorkflowRepository {
	return p.workflows
}

func (p *Persistence) Jobs() persistence.JobRepository {
	return p.jobs
}

func (p *Persistence) Messages() persistence.MessageRepository {
	return p.messages
}

func (p *Persistence) Subscribers() persistence.SubscriberRepository {
	return p.subscribers
}

func (p *Persistence) Integrations() persistence.IntegrationRepository {
	return p.integrations
}

func (p *Persistence) ExecutionDetails() persistence.ExecutionDetailRepository {
	return p.executionDetails
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// encode/decode give copy-on-write semantics over the JSON form, the same
// representation the SQL store persists.
func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func decode[T any](raw string) (*T, error) {
	out := new(T)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return nil, err
	}

	return out, nil
}
