package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator"
)

// ErrInvalidMessage marks messages that can never be processed.
var ErrInvalidMessage = errors.New("invalid queue message")

// ExtractJobMsg asks the worker to extract documents into a tenant graph.
// An empty OntologyVersion selects the tenant's latest ontology.
type ExtractJobMsg struct {
	TenantID        string        `json:"tenant_id" validate:"required"`
	OntologyVersion string        `json:"ontology_version,omitempty"`
	Documents       []DocumentMsg `json:"documents" validate:"required,min=1,dive"`
}

// DocumentMsg references a document by object key or carries its text
// inline.
type DocumentMsg struct {
	ID   string `json:"id" validate:"required"`
	Key  string `json:"key,omitempty"`
	URI  string `json:"uri,omitempty"`
	Text string `json:"text,omitempty"`
}

// GraphUpdatedMsg is published on the topic exchange after a run.
type GraphUpdatedMsg struct {
	TenantID        string `json:"tenant_id"`
	RunID           string `json:"run_id"`
	GraphVersion    int64  `json:"graph_version"`
	OntologyVersion string `json:"ontology_version"`
	Succeeded       int    `json:"succeeded"`
	Failed          int    `json:"failed"`
	Summary         string `json:"summary"`
	Error           string `json:"error,omitempty"`
}

// GraphUpdatedTopic is the routing key of update notifications for a tenant.
func GraphUpdatedTopic(tenantID string) string {
	return "graph.updated." + tenantID
}

var validate = validator.New()

// ParseExtractJob decodes and validates an extraction job.
func ParseExtractJob(body []byte) (*ExtractJobMsg, error) {
	msg := new(ExtractJobMsg)
	if err := json.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (m *ExtractJobMsg) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	seen := make(map[string]struct{}, len(m.Documents))
	for _, d := range m.Documents {
		if d.Key == "" && d.Text == "" {
			return fmt.Errorf("%w: document %q needs a key or text", ErrInvalidMessage, d.ID)
		}
		if _, ok := seen[d.ID]; ok {
			return fmt.Errorf("%w: duplicate document id %q", ErrInvalidMessage, d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}
