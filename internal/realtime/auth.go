package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"recall-ai/internal/models"
	"recall-ai/internal/store"
)

const (
	DefaultTokenTTL = 15 * time.Minute
	tokenTypeAudio  = "audio"
)

var (
	ErrMissingCredentials = errors.New("Missing token or session_id")
	ErrInvalidToken       = errors.New("Invalid token or session")
	ErrTokenExpired       = errors.New("Token expired")
)

// IssueToken mints a token for sess and records it in the session's token
// map. Tokens are never extended; expired ones are dropped here so the map
// does not grow without bound.
func IssueToken(sess *models.Session, ttl time.Duration, now time.Time) models.AuthToken {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if sess.AuthTokens == nil {
		sess.AuthTokens = make(map[string]models.AuthToken)
	}
	for k, t := range sess.AuthTokens {
		if t.ExpiresAt.Before(now) {
			delete(sess.AuthTokens, k)
		}
	}
	tok := models.AuthToken{
		Token:     fmt.Sprintf("ws_token_%s_%d_%s", sess.ID, now.Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8]),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Type:      tokenTypeAudio,
	}
	sess.AuthTokens[tok.Token] = tok
	return tok
}

// Authenticate checks a token against the session's token map.
func Authenticate(ctx context.Context, sessions *store.Sessions, sessionID, token string, now time.Time) (*models.Session, error) {
	if sessionID == "" || token == "" {
		return nil, ErrMissingCredentials
	}
	sess, err := sessions.Get(ctx, sessionID)
	if errors.Is(err, store.ErrInvalidSession) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	tok, ok := sess.AuthTokens[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	if tok.ExpiresAt.Before(now) {
		return nil, ErrTokenExpired
	}
	return sess, nil
}
