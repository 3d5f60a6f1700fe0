// Package token issues and redeems member action tokens: single-use,
// time-limited capabilities that let an unauthenticated contact confirm one
// specific proposed change. There is no extend or re-issue; a fresh attempt
// needs a fresh token.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/errs"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/store"
	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

// tokenBytes gives 256 bits of entropy; encoded length is 64 hex chars.
const tokenBytes = 32

type Store interface {
	InsertToken(ctx context.Context, t types.MemberActionToken) error
	GetTokenByString(ctx context.Context, token string) (types.MemberActionToken, bool, error)
	MarkTokenUsed(ctx context.Context, id string, at time.Time) error
}

type Service struct {
	ttl time.Duration
	log *zap.Logger
	now func() time.Time
}

func NewService(ttl time.Duration, log *zap.Logger) *Service {
	return &Service{ttl: ttl, log: log, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type IssueInput struct {
	TaskID    string
	ContactID string
	TenantID  string
	Type      types.TokenType
	Channel   types.Channel
	Target    string
	Payload   map[string]any
}

// Issue creates and persists a fresh token bound to the task and recipient.
func (s *Service) Issue(ctx context.Context, w Store, in IssueInput) (types.MemberActionToken, error) {
	if in.TaskID == "" || in.ContactID == "" || in.TenantID == "" {
		return types.MemberActionToken{}, errs.E(errs.KindValidation, "token issue requires task, contact and tenant")
	}

	opaque, err := newOpaqueToken()
	if err != nil {
		return types.MemberActionToken{}, errs.Wrap(errs.KindInternal, err, "generate token")
	}

	now := s.now().UTC()
	tok := types.MemberActionToken{
		ID:        uuid.NewString(),
		Token:     opaque,
		TenantID:  in.TenantID,
		ContactID: in.ContactID,
		TaskID:    in.TaskID,
		Type:      in.Type,
		Channel:   in.Channel,
		Target:    in.Target,
		Payload:   in.Payload,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := w.InsertToken(ctx, tok); err != nil {
		return types.MemberActionToken{}, errs.Wrap(errs.KindInternal, err, "persist token")
	}

	s.log.Info("member action token issued",
		zap.String("task_id", in.TaskID),
		zap.String("token_type", string(in.Type)),
		zap.Time("expires_at", tok.ExpiresAt))
	return tok, nil
}

// Validate resolves a token string, distinguishing absent, consumed and
// expired tokens. It performs no mutation.
func (s *Service) Validate(ctx context.Context, r Store, tokenString string) (types.MemberActionToken, error) {
	if tokenString == "" {
		return types.MemberActionToken{}, errs.E(errs.KindTokenNotFound, "token missing")
	}
	tok, ok, err := r.GetTokenByString(ctx, tokenString)
	if err != nil {
		return types.MemberActionToken{}, errs.Wrap(errs.KindInternal, err, "token lookup")
	}
	if !ok {
		return types.MemberActionToken{}, errs.E(errs.KindTokenNotFound, "token not found")
	}
	if tok.UsedAt != nil {
		return types.MemberActionToken{}, errs.E(errs.KindTokenAlreadyUsed, "token already used")
	}
	if s.now().After(tok.ExpiresAt) {
		return types.MemberActionToken{}, errs.E(errs.KindTokenExpired, "token expired")
	}
	return tok, nil
}

// Consume marks the token used. Callers run this in the same transaction that
// applies the privileged change, so a failed apply never strands a consumed
// token.
func (s *Service) Consume(ctx context.Context, w Store, tokenID string) error {
	err := w.MarkTokenUsed(ctx, tokenID, s.now().UTC())
	if err == store.ErrDuplicate {
		return errs.E(errs.KindTokenAlreadyUsed, "token already used")
	}
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "consume token")
	}
	return nil
}

func newOpaqueToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
