package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound indicates the requested profile does not exist.
var ErrNotFound = errors.New("users: profile not found")

// ErrInvalidProfile indicates the profile input lacked a usable identifier.
var ErrInvalidProfile = errors.New("users: invalid profile")

// ServiceConfig describes the dependencies required for the profile directory.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages the user profile directory consulted for display-field
// enrichment.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// ProfileInput carries the display fields supplied during session exchange.
type ProfileInput struct {
	UserID      string
	Username    string
	DisplayName string
	AvatarURL   string
}

// Upsert creates the profile on first sight and refreshes non-empty display
// fields on subsequent sessions.
func (s *Service) Upsert(ctx context.Context, input ProfileInput) (Profile, error) {
	userID := normalize(input.UserID)
	if userID == "" {
		return Profile{}, ErrInvalidProfile
	}

	var profile Profile
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&profile).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = Profile{
			UserID:      userID,
			Username:    normalize(input.Username),
			DisplayName: normalize(input.DisplayName),
			AvatarURL:   normalize(input.AvatarURL),
			LastSeenAt:  s.now(),
		}
		if profile.Username == "" {
			profile.Username = userID
		}
		if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
			return Profile{}, err
		}
		return profile, nil
	}
	if err != nil {
		return Profile{}, err
	}

	updates := map[string]interface{}{}
	if username := normalize(input.Username); username != "" && username != profile.Username {
		updates["username"] = username
		profile.Username = username
	}
	if display := normalize(input.DisplayName); display != "" && display != profile.DisplayName {
		updates["display_name"] = display
		profile.DisplayName = display
	}
	if avatar := normalize(input.AvatarURL); avatar != "" && avatar != profile.AvatarURL {
		updates["avatar_url"] = avatar
		profile.AvatarURL = avatar
	}
	updates["last_seen_at"] = s.now()
	if err := s.db.WithContext(ctx).Model(&Profile{}).
		Where("user_id = ?", userID).
		Updates(updates).
		Error; err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// Get returns the profile for the user identifier.
func (s *Service) Get(ctx context.Context, userID string) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).
		Where("user_id = ?", normalize(userID)).
		First(&profile).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// ProfilesByID resolves display fields for a batch of user identifiers.
// Unknown identifiers are simply absent from the result.
func (s *Service) ProfilesByID(ctx context.Context, userIDs []string) (map[string]Profile, error) {
	resolved := make(map[string]Profile, len(userIDs))
	if len(userIDs) == 0 {
		return resolved, nil
	}
	var profiles []Profile
	if err := s.db.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Find(&profiles).
		Error; err != nil {
		return nil, err
	}
	for _, profile := range profiles {
		resolved[profile.UserID] = profile
	}
	return resolved, nil
}
