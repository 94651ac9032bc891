package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/adi-253/talkie-chat/internal/models"
)

var (
	ErrGroupNotFound   = errors.New("group not found")
	ErrThreadNotFound  = errors.New("support thread not found")
	ErrProfileNotFound = errors.New("profile not found")
)

// GetGroup retrieves a group by its ID.
func (c *Client) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	var groups []models.Group
	if err := c.getJSON(ctx, fmt.Sprintf("groups?id=eq.%s&select=*", url.QueryEscape(id)), &groups); err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	return &groups[0], nil
}

// GetSupportThread retrieves a support thread. Row level security hides
// threads of other users, so those read as not found too.
func (c *Client) GetSupportThread(ctx context.Context, id string) (*models.SupportThread, error) {
	var threads []models.SupportThread
	if err := c.getJSON(ctx, fmt.Sprintf("support_threads?id=eq.%s&select=*", url.QueryEscape(id)), &threads); err != nil {
		return nil, err
	}
	if len(threads) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, id)
	}
	return &threads[0], nil
}

// ListGroups retrieves all groups, newest first.
func (c *Client) ListGroups(ctx context.Context) ([]models.Group, error) {
	var groups []models.Group
	if err := c.getJSON(ctx, "groups?select=*&order=created_at.desc", &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// ActiveChallenge returns the most recently started challenge of a group, or nil.
func (c *Client) ActiveChallenge(ctx context.Context, groupID string, at time.Time) (*models.Challenge, error) {
	endpoint := fmt.Sprintf("challenges?group_id=eq.%s&starts_at=lte.%s&select=*&order=starts_at.desc&limit=1",
		url.QueryEscape(groupID), url.QueryEscape(at.UTC().Format(time.RFC3339)))

	var challenges []models.Challenge
	if err := c.getJSON(ctx, endpoint, &challenges); err != nil {
		return nil, err
	}
	if len(challenges) == 0 {
		return nil, nil
	}
	return &challenges[0], nil
}

// AddMember inserts a membership row.
func (c *Client) AddMember(ctx context.Context, member models.Member) error {
	_, err := c.doRequest(ctx, http.MethodPost, "members", member)
	return err
}

// RemoveMember deletes a membership row.
func (c *Client) RemoveMember(ctx context.Context, groupID, userID string) error {
	endpoint := fmt.Sprintf("members?group_id=eq.%s&user_id=eq.%s", url.QueryEscape(groupID), url.QueryEscape(userID))
	_, err := c.doRequest(ctx, http.MethodDelete, endpoint, nil)
	return err
}

// CountMembers returns the number of members in a group.
func (c *Client) CountMembers(ctx context.Context, groupID string) (int, error) {
	var members []models.Member
	if err := c.getJSON(ctx, fmt.Sprintf("members?group_id=eq.%s&select=user_id", url.QueryEscape(groupID)), &members); err != nil {
		return 0, err
	}
	return len(members), nil
}

// UpdateMemberCount writes the denormalized member count back to the group row.
func (c *Client) UpdateMemberCount(ctx context.Context, groupID string, count int) error {
	data := map[string]interface{}{"member_count": count}
	_, err := c.doRequest(ctx, http.MethodPatch, fmt.Sprintf("groups?id=eq.%s", url.QueryEscape(groupID)), data)
	return err
}
