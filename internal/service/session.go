package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/tanmoy/chatdump/internal/api"
	"github.com/tanmoy/chatdump/internal/cache"
	"github.com/tanmoy/chatdump/internal/extract"
	"github.com/tanmoy/chatdump/pkg/models"
)

const (
	chatPageSize    = 100
	messagePageSize = 500

	// Image-count probes hit the messages endpoint once per chat; spacing
	// them 100ms apart keeps bulk refreshes polite.
	probeInterval = 100 * time.Millisecond
)

// API is the slice of the HTTP client the session needs.
type API interface {
	ListChats(ctx context.Context, limit, offset int) ([]models.ChatSummary, error)
	ListMessages(ctx context.Context, chatID string, limit, offset int) ([]models.Message, error)
	Character(ctx context.Context, characterID string) (name, greeting string, err error)
}

// Session owns the fetch-and-cache pipeline for one authenticated user. It
// replaces what used to be a pile of module globals: the composition root
// creates one Session and passes it around.
type Session struct {
	api     API
	cache   *cache.Cache
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewSession(client API, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		api:     client,
		cache:   cache.New(),
		limiter: rate.NewLimiter(rate.Every(probeInterval), 1),
		logger:  logger,
	}
}

// Chats returns the full chat list, served from cache when fresh. force
// bypasses and refreshes the cache.
func (s *Session) Chats(ctx context.Context, force bool) ([]models.ChatSummary, error) {
	const key = "all"
	if !force {
		if chats, ok := cache.GetAs[[]models.ChatSummary](s.cache, cache.CategoryChats, key); ok {
			s.logger.Debug("chat list served from cache", "count", len(chats))
			return chats, nil
		}
	}

	chats, err := api.FetchAll(ctx, s.api.ListChats, chatPageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chats: %w", err)
	}
	if len(chats) == 0 {
		return nil, models.ErrNoChats
	}

	s.cache.Set(cache.CategoryChats, key, chats)
	return chats, nil
}

// Messages returns every message of a chat, cached per chat.
func (s *Session) Messages(ctx context.Context, chatID string, force bool) ([]models.Message, error) {
	return s.messages(ctx, chatID, force, nil)
}

// MessagesProgressive surfaces each page to onPage as it arrives. A cache
// hit delivers everything as one page.
func (s *Session) MessagesProgressive(ctx context.Context, chatID string, force bool, onPage api.PageCallback[models.Message]) ([]models.Message, error) {
	return s.messages(ctx, chatID, force, onPage)
}

func (s *Session) messages(ctx context.Context, chatID string, force bool, onPage api.PageCallback[models.Message]) ([]models.Message, error) {
	if !force {
		if msgs, ok := cache.GetAs[[]models.Message](s.cache, cache.CategoryMessages, chatID); ok {
			s.logger.Debug("messages served from cache", "chat", chatID, "count", len(msgs))
			if onPage != nil {
				onPage(msgs, true, false)
			}
			return msgs, nil
		}
	}

	page := func(ctx context.Context, limit, offset int) ([]models.Message, error) {
		return s.api.ListMessages(ctx, chatID, limit, offset)
	}
	msgs, err := api.FetchAllProgressive(ctx, page, messagePageSize, onPage)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages for %s: %w", chatID, err)
	}
	if len(msgs) == 0 {
		return nil, models.ErrNoMessages
	}

	s.cache.Set(cache.CategoryMessages, chatID, msgs)
	return msgs, nil
}

// Images extracts the deduplicated image list for one chat.
func (s *Session) Images(ctx context.Context, chat models.ChatSummary, force bool) ([]models.ImageDescriptor, error) {
	msgs, err := s.Messages(ctx, chat.ID, force)
	if err != nil {
		return nil, err
	}
	descs := extract.Extract(msgs, chat.Characters)
	if len(descs) == 0 {
		return nil, models.ErrNoImages
	}
	return descs, nil
}

// ImageCount answers "how many images does this chat hold", cached for half
// an hour because it requires fetching the chat's full message history.
func (s *Session) ImageCount(ctx context.Context, chat models.ChatSummary) (int, error) {
	if n, ok := cache.GetAs[int](s.cache, cache.CategoryImageCounts, chat.ID); ok {
		return n, nil
	}

	msgs, err := s.Messages(ctx, chat.ID, false)
	if err != nil {
		if errors.Is(err, models.ErrNoMessages) {
			s.cache.Set(cache.CategoryImageCounts, chat.ID, 0)
			return 0, nil
		}
		return 0, err
	}

	n := len(extract.Extract(msgs, chat.Characters))
	s.cache.Set(cache.CategoryImageCounts, chat.ID, n)
	return n, nil
}

// FillImageCounts populates ImageCount on each summary, pacing the probes.
// A failed probe leaves that chat's count nil and moves on.
func (s *Session) FillImageCounts(ctx context.Context, chats []models.ChatSummary) []models.ChatSummary {
	for i := range chats {
		if err := s.limiter.Wait(ctx); err != nil {
			break
		}
		n, err := s.ImageCount(ctx, chats[i])
		if err != nil {
			s.logger.Warn("image count probe failed", "chat", chats[i].ID, "error", err)
			continue
		}
		chats[i].ImageCount = &n
	}
	return chats
}

// Greeting fetches the character's canned greeting for exports. Deleted
// characters yield an empty greeting.
func (s *Session) Greeting(ctx context.Context, characterID string) (string, error) {
	_, greeting, err := s.api.Character(ctx, characterID)
	if err != nil {
		return "", err
	}
	return greeting, nil
}

// InvalidateChat drops a chat's cached messages and image count, forcing the
// next read to refetch.
func (s *Session) InvalidateChat(chatID string) {
	s.cache.Invalidate(cache.CategoryMessages, chatID)
	s.cache.Invalidate(cache.CategoryImageCounts, chatID)
}
