package services

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"

	"github.com/vidtube/apiserver/internal/apierr"
	"github.com/vidtube/apiserver/internal/events"
	"github.com/vidtube/apiserver/internal/password"
	"github.com/vidtube/apiserver/internal/store"
	"github.com/vidtube/apiserver/types"
)

const (
	avatarFolder = "avatars"
	coverFolder  = "covers"
)

// SubscriptionRepository defines persistence operations for subscriptions.
type SubscriptionRepository interface {
	GetChannelProfile(ctx context.Context, username string, viewerID int64) (types.ChannelProfile, error)
	Subscribe(ctx context.Context, subscriberID, channelID int64) error
	Unsubscribe(ctx context.Context, subscriberID, channelID int64) error
}

// MediaStore uploads user images and removes superseded ones.
type MediaStore interface {
	Upload(ctx context.Context, folder, filename string, r io.Reader, size int64, contentType string) (string, error)
	RemoveURL(ctx context.Context, url string) error
}

// FileUpload is the typed boundary for an uploaded file, built once at the
// transport edge.
type FileUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// RegisterInput carries the registration form. Avatar is required, cover
// image optional.
type RegisterInput struct {
	Fullname   string
	Email      string
	Username   string
	Password   string
	Avatar     *FileUpload
	CoverImage *FileUpload
}

// UserService covers registration, profile management, and the channel
// subscription queries.
type UserService struct {
	repo      UserRepository
	subs      SubscriptionRepository
	media     MediaStore
	publisher events.Publisher
}

func NewUserService(repo UserRepository, subs SubscriptionRepository, media MediaStore, publisher events.Publisher) *UserService {
	return &UserService{repo: repo, subs: subs, media: media, publisher: publisher}
}

// Register creates an account with a hashed password and uploaded images.
// Uploaded objects are removed again on every failure after upload.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (types.User, error) {
	fullname := strings.TrimSpace(input.Fullname)
	username := normalize(input.Username)
	email := normalize(input.Email)
	if fullname == "" || username == "" || email == "" || input.Password == "" {
		return types.User{}, apierr.BadRequest("all fields are required")
	}
	if input.Avatar == nil {
		return types.User{}, apierr.BadRequest("avatar image is required")
	}

	if _, err := s.repo.GetByUsernameOrEmail(ctx, username, email); err == nil {
		return types.User{}, apierr.Conflict("user with email or username already exists")
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, apierr.Internal("failed to register user")
	}

	avatarURL, err := s.media.Upload(ctx, avatarFolder, input.Avatar.Filename, input.Avatar.Content, input.Avatar.Size, input.Avatar.ContentType)
	if err != nil {
		return types.User{}, apierr.Internal("failed to upload avatar")
	}

	coverURL := ""
	if input.CoverImage != nil {
		coverURL, err = s.media.Upload(ctx, coverFolder, input.CoverImage.Filename, input.CoverImage.Content, input.CoverImage.Size, input.CoverImage.ContentType)
		if err != nil {
			s.removeUploads(ctx, avatarURL)
			return types.User{}, apierr.Internal("failed to upload cover image")
		}
	}

	hash, err := password.Hash(input.Password)
	if err != nil {
		s.removeUploads(ctx, avatarURL, coverURL)
		return types.User{}, apierr.Internal("failed to register user")
	}

	user, err := s.repo.Create(ctx, types.User{
		Username:      username,
		Email:         email,
		Fullname:      fullname,
		AvatarURL:     avatarURL,
		CoverImageURL: coverURL,
		PasswordHash:  hash,
	})
	if err != nil {
		s.removeUploads(ctx, avatarURL, coverURL)
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, apierr.Conflict("user with email or username already exists")
		}
		return types.User{}, apierr.Internal("failed to register user")
	}

	s.publish(ctx, events.Event{
		Name:     events.UserRegistered,
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
	})
	return sanitize(user), nil
}

// GetByID returns the sanitized account.
func (s *UserService) GetByID(ctx context.Context, id int64) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, apierr.NotFound("user does not exist")
		}
		return types.User{}, apierr.Internal("failed to load user")
	}
	return sanitize(user), nil
}

// UpdateDetails changes fullname and email.
func (s *UserService) UpdateDetails(ctx context.Context, id int64, fullname, email string) (types.User, error) {
	fullname = strings.TrimSpace(fullname)
	email = normalize(email)
	if fullname == "" || email == "" {
		return types.User{}, apierr.BadRequest("all fields are required")
	}

	user, err := s.repo.UpdateDetails(ctx, id, fullname, email)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return types.User{}, apierr.NotFound("user does not exist")
		case errors.Is(err, store.ErrConflict):
			return types.User{}, apierr.Conflict("email already in use")
		default:
			return types.User{}, apierr.Internal("failed to update account details")
		}
	}
	return sanitize(user), nil
}

// UpdateAvatar uploads a replacement avatar and removes the previous one.
func (s *UserService) UpdateAvatar(ctx context.Context, id int64, upload *FileUpload) (types.User, error) {
	return s.updateImage(ctx, id, upload, avatarFolder, "avatar")
}

// UpdateCoverImage uploads a replacement cover image and removes the
// previous one.
func (s *UserService) UpdateCoverImage(ctx context.Context, id int64, upload *FileUpload) (types.User, error) {
	return s.updateImage(ctx, id, upload, coverFolder, "cover image")
}

func (s *UserService) updateImage(ctx context.Context, id int64, upload *FileUpload, folder, label string) (types.User, error) {
	if upload == nil {
		return types.User{}, apierr.BadRequest(label + " file is missing")
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, apierr.NotFound("user does not exist")
		}
		return types.User{}, apierr.Internal("failed to update " + label)
	}

	url, err := s.media.Upload(ctx, folder, upload.Filename, upload.Content, upload.Size, upload.ContentType)
	if err != nil {
		return types.User{}, apierr.Internal("failed to upload " + label)
	}

	var updated types.User
	var previousURL string
	if folder == avatarFolder {
		updated, err = s.repo.UpdateAvatarURL(ctx, id, url)
		previousURL = current.AvatarURL
	} else {
		updated, err = s.repo.UpdateCoverImageURL(ctx, id, url)
		previousURL = current.CoverImageURL
	}
	if err != nil {
		s.removeUploads(ctx, url)
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, apierr.NotFound("user does not exist")
		}
		return types.User{}, apierr.Internal("failed to update " + label)
	}

	s.removeUploads(ctx, previousURL)
	return sanitize(updated), nil
}

// ChannelProfile returns the aggregated channel view for a username as
// seen by the viewer.
func (s *UserService) ChannelProfile(ctx context.Context, username string, viewerID int64) (types.ChannelProfile, error) {
	username = normalize(username)
	if username == "" {
		return types.ChannelProfile{}, apierr.BadRequest("username is required")
	}

	profile, err := s.subs.GetChannelProfile(ctx, username, viewerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.ChannelProfile{}, apierr.NotFound("channel does not exist")
		}
		return types.ChannelProfile{}, apierr.Internal("failed to load channel profile")
	}
	return profile, nil
}

// Subscribe makes the viewer follow the named channel. Idempotent.
func (s *UserService) Subscribe(ctx context.Context, viewerID int64, channelUsername string) error {
	channelID, err := s.resolveChannel(ctx, viewerID, channelUsername)
	if err != nil {
		return err
	}
	if err := s.subs.Subscribe(ctx, viewerID, channelID); err != nil {
		return apierr.Internal("failed to subscribe")
	}
	return nil
}

// Unsubscribe removes the viewer's subscription. Idempotent.
func (s *UserService) Unsubscribe(ctx context.Context, viewerID int64, channelUsername string) error {
	channelID, err := s.resolveChannel(ctx, viewerID, channelUsername)
	if err != nil {
		return err
	}
	if err := s.subs.Unsubscribe(ctx, viewerID, channelID); err != nil {
		return apierr.Internal("failed to unsubscribe")
	}
	return nil
}

// NotifyPasswordChanged publishes the password change event.
func (s *UserService) NotifyPasswordChanged(ctx context.Context, user types.User) {
	s.publish(ctx, events.Event{
		Name:     events.PasswordChanged,
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
	})
}

func (s *UserService) resolveChannel(ctx context.Context, viewerID int64, channelUsername string) (int64, error) {
	profile, err := s.ChannelProfile(ctx, channelUsername, viewerID)
	if err != nil {
		return 0, err
	}
	if profile.ID == viewerID {
		return 0, apierr.BadRequest("cannot subscribe to your own channel")
	}
	return profile.ID, nil
}

// publish is best-effort: a broker failure is logged, never surfaced.
func (s *UserService) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Printf("events: publish %s failed: %v", event.Name, err)
	}
}

func (s *UserService) removeUploads(ctx context.Context, urls ...string) {
	for _, url := range urls {
		if url == "" {
			continue
		}
		if err := s.media.RemoveURL(ctx, url); err != nil {
			log.Printf("media: remove %s failed: %v", url, err)
		}
	}
}
