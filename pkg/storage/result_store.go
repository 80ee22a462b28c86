package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/flow"
)

// ResultStore persists final run contexts to blob storage, keyed by flow
// name and run ID.
type ResultStore struct {
	client BlobStorageClient
	logger *zap.Logger
}

// NewResultStore creates a result store over the given blob client.
func NewResultStore(client BlobStorageClient, logger *zap.Logger) (*ResultStore, error) {
	if client == nil {
		return nil, fmt.Errorf("blob client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultStore{client: client, logger: logger}, nil
}

// Save serializes the final context and uploads it under
// results/<flow>/<runID>.json, returning the blob URL and payload size.
func (s *ResultStore) Save(ctx context.Context, flowName, runID string, final *flow.Context) (string, int, error) {
	data, err := final.MarshalJSON()
	if err != nil {
		return "", 0, fmt.Errorf("failed to serialize context: %w", err)
	}

	blobPath := fmt.Sprintf("results/%s/%s.json", flowName, runID)
	metadata := map[string]string{
		"flow":       flowName,
		"run_id":     runID,
		"saved_at":   time.Now().UTC().Format(time.RFC3339),
		"size_bytes": fmt.Sprintf("%d", len(data)),
	}

	url, err := s.client.Upload(ctx, blobPath, data, metadata)
	if err != nil {
		return "", 0, err
	}

	s.logger.Debug("saved run result",
		zap.String("flow", flowName),
		zap.String("run_id", runID),
		zap.String("url", url))
	return url, len(data), nil
}

// Load fetches and deserializes a previously saved context.
func (s *ResultStore) Load(ctx context.Context, reference string) (*flow.Context, error) {
	data, err := s.client.Download(ctx, reference)
	if err != nil {
		return nil, err
	}
	c := flow.NewContext()
	if err := c.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("failed to deserialize context: %w", err)
	}
	return c, nil
}
