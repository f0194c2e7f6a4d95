package valkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/giantswarm/crashlink/storage"
)

// PutCredential saves a credential, replacing any prior one for the identity,
// and indexes it by issue time for AnyCredential.
func (s *Store) PutCredential(ctx context.Context, cred *storage.Credential) (err error) {
	ctx, span := s.startSpan(ctx, "put_credential")
	defer span.End()
	defer s.record(ctx, span, "put_credential", time.Now(), &err)

	if err = cred.Validate(); err != nil {
		return err
	}

	copied := *cred
	copied.IssuedAt = cred.IssuedAt.UTC()
	data, err := marshalRecord(&copied)
	if err != nil {
		return err
	}

	if err = s.client.Do(ctx,
		s.client.B().Set().Key(s.credentialKey(cred.IdentityID)).Value(data).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	if err = s.client.Do(ctx,
		s.client.B().Zadd().Key(s.credentialIndexKey()).ScoreMember().
			ScoreMember(float64(copied.IssuedAt.UnixMilli()), cred.IdentityID).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to index credential: %w", err)
	}

	s.logger.Debug("Saved credential", "identity_id", cred.IdentityID, "login", cred.Login)
	return nil
}

// GetCredential returns the credential stored for an identity.
func (s *Store) GetCredential(ctx context.Context, identityID string) (_ *storage.Credential, err error) {
	ctx, span := s.startSpan(ctx, "get_credential")
	defer span.End()
	defer s.record(ctx, span, "get_credential", time.Now(), &err)

	return getJSON[storage.Credential](ctx, s, s.credentialKey(identityID))
}

// AnyCredential returns the most recently issued credential. Index entries
// whose credential has vanished are skipped and pruned.
func (s *Store) AnyCredential(ctx context.Context) (_ *storage.Credential, err error) {
	ctx, span := s.startSpan(ctx, "any_credential")
	defer span.End()
	defer s.record(ctx, span, "any_credential", time.Now(), &err)

	ids, err := s.client.Do(ctx,
		s.client.B().Zrange().Key(s.credentialIndexKey()).Min("0").Max("-1").Rev().Build(),
	).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to read credential index: %w", err)
	}

	for _, id := range ids {
		cred, getErr := getJSON[storage.Credential](ctx, s, s.credentialKey(id))
		if getErr == nil {
			return cred, nil
		}
		if !errors.Is(getErr, storage.ErrNotFound) {
			return nil, getErr
		}
		_ = s.client.Do(ctx, s.client.B().Zrem().Key(s.credentialIndexKey()).Member(id).Build())
	}
	return nil, storage.ErrNotFound
}
