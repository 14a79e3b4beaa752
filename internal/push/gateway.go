package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/repairgrid/dispatch/pkg/models"
)

// Sentinel errors for push gateway failures.
var (
	ErrGatewayUnreachable = errors.New("push gateway unreachable")
	ErrGatewayRejected    = errors.New("push gateway rejected message")
	ErrGatewayTimeout     = errors.New("push gateway timeout")
)

// Gateway delivers push messages to technician devices.
type Gateway interface {
	Send(ctx context.Context, msg models.PushMessage) error
}

// HTTPGateway implements Gateway against the push gateway's HTTP API.
type HTTPGateway struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// NewHTTPGateway creates a new push gateway client.
func NewHTTPGateway(baseURL, authToken string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL:   baseURL,
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) Send(ctx context.Context, msg models.PushMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal push message: %w", err)
	}

	u := g.baseURL + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+g.authToken)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrGatewayRejected, resp.StatusCode)
	}
	return nil
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
}
