package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/adi-253/talkie-chat/internal/models"
)

// GetProfile retrieves a single user profile.
func (c *Client) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var profiles []models.Profile
	if err := c.getJSON(ctx, fmt.Sprintf("users?id=eq.%s&select=*", url.QueryEscape(userID)), &profiles); err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
	}
	return &profiles[0], nil
}

// GetProfiles retrieves several profiles in one call.
func (c *Client) GetProfiles(ctx context.Context, userIDs []string) ([]models.Profile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(userIDs))
	for i, id := range userIDs {
		quoted[i] = url.QueryEscape(id)
	}
	var profiles []models.Profile
	endpoint := fmt.Sprintf("users?id=in.(%s)&select=*", strings.Join(quoted, ","))
	if err := c.getJSON(ctx, endpoint, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// AddSpeakingSeconds atomically increments a user's speaking counter through an RPC.
func (c *Client) AddSpeakingSeconds(ctx context.Context, userID string, seconds float64) error {
	body := map[string]interface{}{
		"user_id": userID,
		"seconds": seconds,
	}
	_, err := c.doRequest(ctx, http.MethodPost, "rpc/increment_speaking_seconds", body)
	return err
}
