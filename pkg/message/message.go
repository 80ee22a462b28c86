// Package message defines the JSON wire envelopes the runner exchanges over
// JetStream: a Message requesting a flow run over a serialized context, and
// a Result reporting the run's outcome.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/wehubfusion/Daedalus/pkg/flow"
)

// Result statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// BlobReference points at an offloaded result. When a final context is too
// large to send inline it is uploaded to blob storage and the Result carries
// a reference instead of the raw data.
type BlobReference struct {
	URL       string `json:"url"`
	SizeBytes int    `json:"sizeBytes"`
}

// Message is a request to run a named flow over the carried context.
type Message struct {
	// RunID uniquely identifies the requested run
	RunID string `json:"runId"`

	// Flow names the flow to run, resolved against the runner's registry
	Flow string `json:"flow"`

	// Context is the initial context for the run
	Context *flow.Context `json:"context"`

	// Metadata holds additional key-value pairs for the message
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is the timestamp when the message was created
	CreatedAt string `json:"createdAt"`

	// natsMsg holds the original NATS message for acknowledgment (not serialized)
	natsMsg *nats.Msg
}

// NewMessage creates a run request for the named flow with a fresh run ID.
func NewMessage(flowName string, c *flow.Context) *Message {
	return &Message{
		RunID:     uuid.NewString(),
		Flow:      flowName,
		Context:   c,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// Marshal serializes the message to JSON.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal parses a run request from JSON and validates its required
// fields.
func Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if m.Flow == "" {
		return nil, fmt.Errorf("message missing flow name")
	}
	if m.Context == nil {
		m.Context = flow.NewContext()
	}
	if m.RunID == "" {
		m.RunID = uuid.NewString()
	}
	return &m, nil
}

// FromNATS parses a run request from a NATS message, retaining the original
// message for acknowledgment.
func FromNATS(msg *nats.Msg) (*Message, error) {
	m, err := Unmarshal(msg.Data)
	if err != nil {
		return nil, err
	}
	m.natsMsg = msg
	return m, nil
}

// Ack acknowledges the underlying NATS message.
func (m *Message) Ack() error {
	if m.natsMsg == nil {
		return nil
	}
	return m.natsMsg.Ack()
}

// Nak negatively acknowledges the underlying NATS message, requesting
// redelivery.
func (m *Message) Nak() error {
	if m.natsMsg == nil {
		return nil
	}
	return m.natsMsg.Nak()
}

// Result reports the outcome of one requested run.
type Result struct {
	// RunID echoes the request's run ID
	RunID string `json:"runId"`

	// Flow echoes the request's flow name
	Flow string `json:"flow"`

	// Status is StatusCompleted or StatusFailed
	Status string `json:"status"`

	// Error is the failure message for a failed run
	Error string `json:"error,omitempty"`

	// Context is the final context of a completed run, unless offloaded
	Context *flow.Context `json:"context,omitempty"`

	// BlobReference points at an offloaded final context
	BlobReference *BlobReference `json:"blobReference,omitempty"`

	// CompletedAt is the timestamp when the run finished
	CompletedAt string `json:"completedAt"`
}

// NewCompletedResult creates a success result carrying the final context.
func NewCompletedResult(runID, flowName string, c *flow.Context) *Result {
	return &Result{
		RunID:       runID,
		Flow:        flowName,
		Status:      StatusCompleted,
		Context:     c,
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// NewFailedResult creates a failure result carrying the run error.
func NewFailedResult(runID, flowName string, runErr error) *Result {
	r := &Result{
		RunID:       runID,
		Flow:        flowName,
		Status:      StatusFailed,
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	return r
}

// Marshal serializes the result to JSON.
func (r *Result) Marshal() ([]byte, error) {
	return json.Marshal(r)
}
