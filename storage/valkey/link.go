package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/crashlink/storage"
)

// PutAccountLink upserts a chat user to GitHub login mapping.
func (s *Store) PutAccountLink(ctx context.Context, link *storage.AccountLink) (err error) {
	ctx, span := s.startSpan(ctx, "put_account_link")
	defer span.End()
	defer s.record(ctx, span, "put_account_link", time.Now(), &err)

	if link == nil || link.ChatUser == "" || link.GitHubLogin == "" {
		return fmt.Errorf("chat user and github login are required")
	}

	data, err := marshalRecord(link)
	if err != nil {
		return err
	}

	if err = s.client.Do(ctx,
		s.client.B().Set().Key(s.linkKey(link.ChatUser)).Value(data).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save account link: %w", err)
	}
	return nil
}

// GetAccountLink returns the mapping for a chat user.
func (s *Store) GetAccountLink(ctx context.Context, chatUser string) (_ *storage.AccountLink, err error) {
	ctx, span := s.startSpan(ctx, "get_account_link")
	defer span.End()
	defer s.record(ctx, span, "get_account_link", time.Now(), &err)

	return getJSON[storage.AccountLink](ctx, s, s.linkKey(chatUser))
}
