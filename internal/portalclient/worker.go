package portalclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/marcus/portal/internal/worker"
)

// WorkerClient posts control messages to a cache worker running in another
// process (portal edge).
type WorkerClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewWorkerClient creates a WorkerClient for the worker listening at baseURL.
func NewWorkerClient(baseURL string) *WorkerClient {
	return &WorkerClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Post sends msg and returns the worker's acknowledgment. A reply with
// Success false is returned without error; transport failures are errors.
func (c *WorkerClient) Post(ctx context.Context, msg worker.Message) (worker.Reply, error) {
	var reply worker.Reply
	err := doJSON(ctx, c.HTTP, http.MethodPost, c.BaseURL+worker.MessagePath, msg, &reply)
	if apiErr, ok := asAPIError(err); ok && apiErr.Status == http.StatusBadRequest {
		reason := apiErr.Message
		if reason == "" {
			reason = apiErr.Code
		}
		return worker.Reply{ID: msg.ID, Error: reason}, nil
	}
	if err != nil {
		return worker.Reply{}, err
	}
	return reply, nil
}

// State reports the remote worker's override state.
func (c *WorkerClient) State(ctx context.Context) (*worker.State, error) {
	var st worker.State
	if err := doJSON(ctx, c.HTTP, http.MethodGet, c.BaseURL+worker.StatePath, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
