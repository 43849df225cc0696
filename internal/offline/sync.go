package offline

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/scawful/halext-org-sub003/internal/api"
)

// FlushResult summarizes one replay pass over the pending queue.
type FlushResult struct {
	Replayed int
	Dropped  int
	Kept     int
}

// Syncer replays queued mutations through the API client. Outcome handling
// mirrors the client's error taxonomy: a client error means the server has
// rejected this exact mutation and retrying cannot succeed, so it is dropped;
// transport/server/gateway errors keep the mutation for a later pass; an
// authentication error stops the whole flush, since every remaining mutation
// would fail the same way.
type Syncer struct {
	store  *Store
	client *api.Client
	log    zerolog.Logger
}

func NewSyncer(store *Store, client *api.Client, log zerolog.Logger) *Syncer {
	return &Syncer{store: store, client: client, log: log}
}

func (s *Syncer) Flush(ctx context.Context) (*FlushResult, error) {
	pending, err := s.store.Pending(ctx)
	if err != nil {
		return nil, err
	}

	res := &FlushResult{}
	for _, m := range pending {
		err := s.client.Do(ctx, m.Method, m.Path, m.Body, nil)
		if err == nil {
			if derr := s.store.delete(ctx, m.ID); derr != nil {
				return res, derr
			}
			res.Replayed++
			s.log.Info().Str("mutation_id", m.ID).Str("path", m.Path).Msg("replayed queued mutation")
			continue
		}

		var authErr *api.AuthError
		if errors.As(err, &authErr) {
			s.log.Warn().Str("mutation_id", m.ID).Msg("flush stopped, session expired")
			return res, err
		}

		var clientErr *api.ClientError
		var decodeErr *api.DecodingError
		if errors.As(err, &clientErr) || errors.As(err, &decodeErr) {
			if derr := s.store.delete(ctx, m.ID); derr != nil {
				return res, derr
			}
			res.Dropped++
			s.log.Warn().Str("mutation_id", m.ID).Err(err).Msg("dropping rejected mutation")
			continue
		}

		// Transport, gateway, or exhausted server error: keep for next pass.
		if rerr := s.store.recordFailure(ctx, m.ID, err.Error()); rerr != nil {
			return res, rerr
		}
		res.Kept++
		s.log.Info().Str("mutation_id", m.ID).Err(err).Msg("keeping mutation for next flush")
	}
	return res, nil
}
