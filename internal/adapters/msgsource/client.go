package msgsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"signalPilot/internal/ports"
)

// Client consumes trade instructions from the message-source bridge, a
// sidecar that holds the messaging session and exposes channel listings and
// a long-poll update feed. It implements ports.MessageSource.
type Client struct {
	baseURL string
	http    *http.Client
	logger  ports.Logger

	offset int64
}

// New creates a message source client for the given base URL.
func New(baseURL string, logger ports.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("message source base URL is required: %w", ports.ErrConfigurationError)
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for message source client")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Longer than the bridge's 30s long-poll hold.
		http:   &http.Client{Timeout: 45 * time.Second},
		logger: logger,
	}, nil
}

type channelDoc struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

type updateDoc struct {
	UpdateID  int64  `json:"update_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// Connect verifies the bridge session is up.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.get(ctx, "/ping", nil, nil); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrConnectionFailed, err)
	}
	c.logger.Info(ctx, "Connected to message source bridge", map[string]interface{}{"url": c.baseURL})
	return nil
}

// Disconnect is a no-op; the bridge owns the session.
func (c *Client) Disconnect() error { return nil }

// Channels enumerates subscribable channels.
func (c *Client) Channels(ctx context.Context) ([]ports.Channel, error) {
	var docs []channelDoc
	if err := c.get(ctx, "/channels", nil, &docs); err != nil {
		return nil, fmt.Errorf("channel listing failed: %w", err)
	}
	out := make([]ports.Channel, 0, len(docs))
	for _, d := range docs {
		out = append(out, ports.Channel{ID: d.ID, Title: d.Title, Type: d.Type})
	}
	return out, nil
}

// Listen long-polls the update feed for the channel, invoking handler for
// each message in order, until the context is cancelled. Transient poll
// failures back off and retry rather than ending the stream.
func (c *Client) Listen(ctx context.Context, channelID int64, handler func(ports.InboundMessage)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := c.poll(ctx, channelID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn(ctx, "Update poll failed, retrying", map[string]interface{}{"error": err.Error()})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= c.offset {
				c.offset = u.UpdateID + 1
			}
			if strings.TrimSpace(u.Text) == "" {
				continue
			}
			handler(ports.InboundMessage{
				MessageID:  u.MessageID,
				Text:       u.Text,
				SenderName: u.Sender,
				Timestamp:  time.Unix(u.Timestamp, 0).UTC(),
			})
		}
	}
}

func (c *Client) poll(ctx context.Context, channelID int64) ([]updateDoc, error) {
	params := url.Values{
		"channel_id": {strconv.FormatInt(channelID, 10)},
		"offset":     {strconv.FormatInt(c.offset, 10)},
		"timeout":    {"30"},
	}
	var docs []updateDoc
	if err := c.get(ctx, "/updates", params, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bridge request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read bridge response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("bridge returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode bridge response: %w", err)
	}
	return nil
}
