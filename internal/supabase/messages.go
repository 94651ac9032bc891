package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/adi-253/talkie-chat/internal/models"
)

// FetchMessages retrieves the full history of a scope, oldest first.
func (c *Client) FetchMessages(ctx context.Context, scope models.Scope) ([]models.Message, error) {
	endpoint := fmt.Sprintf("%s?%s=eq.%s&select=*&order=created_at.asc",
		scope.Table(), scope.FilterColumn(), url.QueryEscape(scope.ID))

	var messages []models.Message
	if err := c.getJSON(ctx, endpoint, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// InsertMessage persists a message and returns the stored row with its durable id.
func (c *Client) InsertMessage(ctx context.Context, scope models.Scope, msg models.Message) (*models.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, scope.Table(), msg)
	if err != nil {
		return nil, err
	}

	var rows []models.Message
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse inserted message: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert into %s returned no rows", scope.Table())
	}
	return &rows[0], nil
}

// DeleteMessage removes a message by id.
func (c *Client) DeleteMessage(ctx context.Context, scope models.Scope, id string) error {
	endpoint := fmt.Sprintf("%s?id=eq.%s", scope.Table(), url.QueryEscape(id))
	_, err := c.doRequest(ctx, http.MethodDelete, endpoint, nil)
	return err
}
