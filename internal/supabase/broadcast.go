package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Broadcast sends a Realtime Broadcast event over the REST API, so no
// websocket connection is needed. Used when the scope channel is not joined.
func (c *Client) Broadcast(ctx context.Context, topic, event string, payload interface{}) error {
	body := map[string]interface{}{
		"messages": []map[string]interface{}{
			{
				"topic":   topic,
				"event":   event,
				"payload": payload,
			},
		},
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast payload: %w", err)
	}

	url := fmt.Sprintf("%s/realtime/v1/api/broadcast", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create broadcast request: %w", err)
	}
	if err := c.authorize(ctx, req); err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("broadcast", "topic", topic, "event", event)
	if _, err := c.send(req); err != nil {
		return fmt.Errorf("broadcast %s on %s: %w", event, topic, err)
	}
	return nil
}
