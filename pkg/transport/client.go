package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"

	"github.com/ryandielhenn/subalive/pkg/heartbeat"
)

// DefaultClientTimeout bounds a call when ClientConfig.Timeout is zero.
const DefaultClientTimeout = 5 * time.Second

type ClientConfig struct {
	// Addr of the receiver, with or without scheme.
	Addr    string
	Timeout time.Duration
}

// Client calls a receiver's alive operation. It never retries.
type Client struct {
	resty *resty.Client
}

var _ heartbeat.Transport = (*Client)(nil)

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultClientTimeout
	}
	rc := resty.New().
		SetBaseURL(BaseURL(cfg.Addr)).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetHeader("Content-Type", "application/json")
	return &Client{resty: rc}
}

// Alive sends one heartbeat. Connection failures and 503 replies are
// wrapped in heartbeat.ErrPeerUnreachable.
func (c *Client) Alive(ctx context.Context, counter int) (int, error) {
	var out StdResponse[AliveResponse]
	resp, err := c.resty.R().
		SetContext(ctx).
		SetBody(AliveRequest{Counter: counter}).
		SetResult(&out).
		Post(AlivePath)
	if err != nil {
		if heartbeat.IsPeerUnreachable(err) {
			return 0, fmt.Errorf("%w: %w", heartbeat.ErrPeerUnreachable, err)
		}
		return 0, fmt.Errorf("alive call: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusServiceUnavailable:
		return 0, fmt.Errorf("%w: receiver replied %s", heartbeat.ErrPeerUnreachable, resp.Status())
	case resp.IsError():
		return 0, fmt.Errorf("alive call: unexpected status %s", resp.Status())
	case out.Error != nil:
		return 0, fmt.Errorf("alive call: %s", *out.Error)
	}
	return out.Body.Result, nil
}
