package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adi-253/talkie-chat/internal/models"
)

var (
	ErrNoCommunity = errors.New("community group is not configured")
	ErrUnknownKind = errors.New("unknown scope kind")
)

// Member events broadcast on a scope channel.
const (
	EventMemberJoin  = "member_join"
	EventMemberLeave = "member_leave"
)

// ScopeBackend is what the scope service needs from the Remote Data Service.
type ScopeBackend interface {
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	GetSupportThread(ctx context.Context, id string) (*models.SupportThread, error)
	ActiveChallenge(ctx context.Context, groupID string, at time.Time) (*models.Challenge, error)
	AddMember(ctx context.Context, member models.Member) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	CountMembers(ctx context.Context, groupID string) (int, error)
	UpdateMemberCount(ctx context.Context, groupID string, count int) error
}

// Broadcaster publishes an ephemeral event on a topic.
type Broadcaster interface {
	Broadcast(ctx context.Context, topic, event string, payload interface{}) error
}

// ScopeService resolves conversation scopes and manages group membership.
type ScopeService struct {
	db          ScopeBackend
	broadcaster Broadcaster
	communityID string
	logger      *slog.Logger
	now         func() time.Time
}

// NewScopeService creates a new ScopeService. broadcaster may be nil.
func NewScopeService(db ScopeBackend, broadcaster Broadcaster, communityID string, logger *slog.Logger) *ScopeService {
	return &ScopeService{
		db:          db,
		broadcaster: broadcaster,
		communityID: communityID,
		logger:      logger,
		now:         time.Now,
	}
}

// Resolve builds the Scope for kind and id, with its member count and, for
// groups, the active challenge. For the community kind id may be empty.
func (s *ScopeService) Resolve(ctx context.Context, kind models.ScopeKind, id string) (models.Scope, error) {
	switch kind {
	case models.ScopeSupport:
		thread, err := s.db.GetSupportThread(ctx, id)
		if err != nil {
			return models.Scope{}, err
		}
		return models.Scope{Kind: kind, ID: thread.ID, Name: "Support", MemberCount: 2}, nil

	case models.ScopeCommunity:
		if id == "" {
			id = s.communityID
		}
		if id == "" {
			return models.Scope{}, ErrNoCommunity
		}
		group, err := s.db.GetGroup(ctx, id)
		if err != nil {
			return models.Scope{}, err
		}
		return models.Scope{Kind: kind, ID: group.ID, Name: "Community", MemberCount: group.MemberCount}, nil

	case models.ScopeGroup:
		group, err := s.db.GetGroup(ctx, id)
		if err != nil {
			return models.Scope{}, err
		}
		challenge, err := s.db.ActiveChallenge(ctx, group.ID, s.now())
		if err != nil {
			// Messages can still be sent untagged
			s.logger.Warn("active challenge lookup failed", "group", group.ID, "error", err)
		}
		return models.Scope{
			Kind:         kind,
			ID:           group.ID,
			Name:         group.Name,
			MemberCount:  group.MemberCount,
			RotationCron: group.RotationCron,
			Challenge:    challenge,
		}, nil
	}
	return models.Scope{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Join adds userID to a group and returns the refreshed scope.
func (s *ScopeService) Join(ctx context.Context, groupID, userID string) (models.Scope, error) {
	if _, err := s.db.GetGroup(ctx, groupID); err != nil {
		return models.Scope{}, fmt.Errorf("group not found: %w", err)
	}

	member := models.Member{GroupID: groupID, UserID: userID, JoinedAt: s.now().UTC()}
	if err := s.db.AddMember(ctx, member); err != nil {
		return models.Scope{}, fmt.Errorf("failed to join group: %w", err)
	}

	topic := models.Scope{Kind: models.ScopeGroup, ID: groupID}.Topic()
	s.announce(ctx, topic, EventMemberJoin, member)

	if err := s.syncCount(ctx, groupID); err != nil {
		// Non-fatal, the count is only used for display
		s.logger.Warn("failed to update member count", "group", groupID, "error", err)
	}
	return s.Resolve(ctx, models.ScopeGroup, groupID)
}

// Leave removes userID from a group.
func (s *ScopeService) Leave(ctx context.Context, groupID, userID string) error {
	if err := s.db.RemoveMember(ctx, groupID, userID); err != nil {
		return fmt.Errorf("failed to leave group: %w", err)
	}

	topic := models.Scope{Kind: models.ScopeGroup, ID: groupID}.Topic()
	s.announce(ctx, topic, EventMemberLeave, models.Member{GroupID: groupID, UserID: userID})

	if err := s.syncCount(ctx, groupID); err != nil {
		return fmt.Errorf("failed to update member count: %w", err)
	}
	return nil
}

func (s *ScopeService) syncCount(ctx context.Context, groupID string) error {
	count, err := s.db.CountMembers(ctx, groupID)
	if err != nil {
		return err
	}
	return s.db.UpdateMemberCount(ctx, groupID, count)
}

// announce broadcasts a member event so other clients update instantly.
func (s *ScopeService) announce(ctx context.Context, topic, event string, member models.Member) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Broadcast(ctx, topic, event, member); err != nil {
		s.logger.Warn("member broadcast failed", "event", event, "user", member.UserID, "error", err)
	}
}
