package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/vidtube/apiserver/internal/events"
	"github.com/vidtube/apiserver/internal/password"
	"github.com/vidtube/apiserver/internal/store"
	"github.com/vidtube/apiserver/internal/token"
	"github.com/vidtube/apiserver/types"
)

// memRepo is an in-memory UserRepository mirroring the store's sentinel
// error contract.
type memRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]types.User

	failSetRefreshToken bool
	failCreate          error
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 1, users: map[int64]types.User{}}
}

func (r *memRepo) GetByID(ctx context.Context, id int64) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *memRepo) GetByUsernameOrEmail(ctx context.Context, username, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if (username != "" && user.Username == username) || (email != "" && user.Email == email) {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate != nil {
		return types.User{}, r.failCreate
	}
	for _, existing := range r.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	user.ID = r.nextID
	r.nextID++
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	r.users[user.ID] = user
	return user, nil
}

func (r *memRepo) UpdateDetails(ctx context.Context, id int64, fullname, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	for otherID, other := range r.users {
		if otherID != id && other.Email == email {
			return types.User{}, store.ErrConflict
		}
	}
	user.Fullname = fullname
	user.Email = email
	r.users[id] = user
	return user, nil
}

func (r *memRepo) UpdateAvatarURL(ctx context.Context, id int64, url string) (types.User, error) {
	return r.updateField(id, func(user *types.User) { user.AvatarURL = url })
}

func (r *memRepo) UpdateCoverImageURL(ctx context.Context, id int64, url string) (types.User, error) {
	return r.updateField(id, func(user *types.User) { user.CoverImageURL = url })
}

func (r *memRepo) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	_, err := r.updateField(id, func(user *types.User) { user.PasswordHash = hash })
	return err
}

func (r *memRepo) SetRefreshToken(ctx context.Context, id int64, tok string) error {
	if r.failSetRefreshToken {
		return errors.New("storage unavailable")
	}
	_, err := r.updateField(id, func(user *types.User) { user.RefreshToken = tok })
	return err
}

func (r *memRepo) ClearRefreshToken(ctx context.Context, id int64) error {
	_, err := r.updateField(id, func(user *types.User) { user.RefreshToken = "" })
	return err
}

func (r *memRepo) updateField(id int64, apply func(*types.User)) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	apply(&user)
	r.users[id] = user
	return user, nil
}

func (r *memRepo) stored(t *testing.T, id int64) types.User {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		t.Fatalf("user %d not stored", id)
	}
	return user
}

// fakeMedia records uploads and removals.
type fakeMedia struct {
	mu       sync.Mutex
	uploads  []string
	removals []string
	failPut  bool
}

func (m *fakeMedia) Upload(ctx context.Context, folder, filename string, r io.Reader, size int64, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return "", errors.New("storage unavailable")
	}
	url := fmt.Sprintf("/media/%s/%s", folder, filename)
	m.uploads = append(m.uploads, url)
	return url, nil
}

func (m *fakeMedia) RemoveURL(ctx context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removals = append(m.removals, url)
	return nil
}

// fakeSubs is an in-memory SubscriptionRepository keyed off a memRepo.
type fakeSubs struct {
	repo  *memRepo
	pairs map[[2]int64]bool
}

func newFakeSubs(repo *memRepo) *fakeSubs {
	return &fakeSubs{repo: repo, pairs: map[[2]int64]bool{}}
}

func (s *fakeSubs) GetChannelProfile(ctx context.Context, username string, viewerID int64) (types.ChannelProfile, error) {
	channel, err := s.repo.GetByUsernameOrEmail(ctx, username, "")
	if err != nil {
		return types.ChannelProfile{}, err
	}
	profile := types.ChannelProfile{
		ID:            channel.ID,
		Username:      channel.Username,
		Fullname:      channel.Fullname,
		AvatarURL:     channel.AvatarURL,
		CoverImageURL: channel.CoverImageURL,
	}
	for pair := range s.pairs {
		if pair[1] == channel.ID {
			profile.SubscriberCount++
			if pair[0] == viewerID {
				profile.IsSubscribed = true
			}
		}
		if pair[0] == channel.ID {
			profile.SubscribedToCount++
		}
	}
	return profile, nil
}

func (s *fakeSubs) Subscribe(ctx context.Context, subscriberID, channelID int64) error {
	s.pairs[[2]int64{subscriberID, channelID}] = true
	return nil
}

func (s *fakeSubs) Unsubscribe(ctx context.Context, subscriberID, channelID int64) error {
	delete(s.pairs, [2]int64{subscriberID, channelID})
	return nil
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func newTestIssuer(t *testing.T) *token.Issuer {
	t.Helper()
	issuer, err := token.NewIssuer(token.Options{
		AccessSecret:  []byte("test-access-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshSecret: []byte("test-refresh-secret"),
		RefreshTTL:    10 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return issuer
}

func seedUser(t *testing.T, repo *memRepo, username, email, plaintext string) types.User {
	t.Helper()
	hash, err := password.Hash(plaintext)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user, err := repo.Create(context.Background(), types.User{
		Username:     username,
		Email:        email,
		Fullname:     "Test User",
		AvatarURL:    "/media/avatars/seed.png",
		PasswordHash: hash,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}
