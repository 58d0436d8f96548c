package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jobfeed/jobfeed/app/database"
)

type storedToken struct {
	consumerID  uuid.UUID
	jwt         string
	invalidated bool
}

type fakeTokenRepo struct {
	consumers map[uuid.UUID]database.Consumer
	tokens    []storedToken
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{consumers: map[uuid.UUID]database.Consumer{}}
}

func (r *fakeTokenRepo) CreateConsumer(_ context.Context, _ *database.Tx, consumer database.Consumer) error {
	r.consumers[consumer.ID] = consumer
	return nil
}

func (r *fakeTokenRepo) GetConsumer(_ context.Context, _ *database.Tx, id uuid.UUID) (*database.Consumer, error) {
	consumer, ok := r.consumers[id]
	if !ok {
		return nil, nil
	}
	return &consumer, nil
}

func (r *fakeTokenRepo) GetConsumersByIdentifier(_ context.Context, _ *database.Tx, identifier string) ([]database.Consumer, error) {
	var out []database.Consumer
	for _, c := range r.consumers {
		if c.Identifier == identifier {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeTokenRepo) SaveToken(_ context.Context, _ *database.Tx, consumerID uuid.UUID, jwt string, _ time.Time) error {
	r.tokens = append(r.tokens, storedToken{consumerID: consumerID, jwt: jwt})
	return nil
}

func (r *fakeTokenRepo) InvalidateTokens(_ context.Context, _ *database.Tx, consumerID uuid.UUID) error {
	for i := range r.tokens {
		if r.tokens[i].consumerID == consumerID {
			r.tokens[i].invalidated = true
		}
	}
	return nil
}

func (r *fakeTokenRepo) InvalidatedTokens(_ context.Context, _ *database.Tx) ([]string, error) {
	var out []string
	for _, t := range r.tokens {
		if t.invalidated {
			out = append(out, t.jwt)
		}
	}
	return out, nil
}

func (r *fakeTokenRepo) ValidTokens(_ context.Context, _ *database.Tx, consumerID uuid.UUID) ([]string, error) {
	var out []string
	for _, t := range r.tokens {
		if t.consumerID == consumerID && !t.invalidated {
			out = append(out, t.jwt)
		}
	}
	return out, nil
}

type passthroughTx struct{}

func (passthroughTx) InTx(_ context.Context, existing *database.Tx, fn func(tx *database.Tx) error) error {
	return fn(existing)
}

func newTestTokenService(repo database.TokenRepository) (*TokenService, *Security) {
	security := newTestSecurity()
	return NewTokenService(repo, passthroughTx{}, security), security
}

func TestIssueTokenRotates(t *testing.T) {
	repo := newFakeTokenRepo()
	svc, security := newTestTokenService(repo)

	consumer, err := svc.CreateConsumer(context.Background(), database.Consumer{
		Identifier: "acme", Email: "dev@acme.example",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := svc.IssueToken(context.Background(), consumer.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.IssueToken(context.Background(), consumer.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Fatal("expected rotation to issue a distinct token")
	}

	valid, _ := repo.ValidTokens(context.Background(), nil, consumer.ID)
	if len(valid) != 1 || valid[0] != second {
		t.Errorf("expected only the newest token valid, got %v", valid)
	}

	// The rotated-out token reaches the verifier via the denylist.
	if err := svc.RefreshDenylist(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := security.Verify(first); err == nil {
		t.Error("expected rotated-out token to be rejected")
	}
	if _, err := security.Verify(second); err != nil {
		t.Errorf("expected current token to verify, got %v", err)
	}
}

func TestIssueTokenUnknownConsumer(t *testing.T) {
	svc, _ := newTestTokenService(newFakeTokenRepo())
	if _, err := svc.IssueToken(context.Background(), uuid.New(), nil); err == nil {
		t.Error("expected error for unknown consumer")
	}
}

func TestEnsurePublicToken(t *testing.T) {
	repo := newFakeTokenRepo()
	svc, security := newTestTokenService(repo)

	token, err := svc.EnsurePublicToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	consumers, _ := repo.GetConsumersByIdentifier(context.Background(), nil, PublicConsumerIdentifier)
	if len(consumers) != 1 {
		t.Fatalf("expected public consumer to be created, got %d", len(consumers))
	}
	if _, err := security.Verify(token); err != nil {
		t.Errorf("expected public token to verify, got %v", err)
	}

	// A second call reuses the stored token instead of rotating.
	again, err := svc.EnsurePublicToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != token {
		t.Error("expected existing public token to be reused")
	}
}

func TestRotatePublicTokenIfExpiring(t *testing.T) {
	repo := newFakeTokenRepo()
	svc, _ := newTestTokenService(repo)

	token, err := svc.EnsurePublicToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Fresh token, expiry far away: no rotation.
	rotated, err := svc.RotatePublicTokenIfExpiring(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rotated {
		t.Error("expected no rotation for a fresh token")
	}

	// A threshold beyond the token lifetime forces rotation.
	rotated, err = svc.RotatePublicTokenIfExpiring(context.Background(), publicTokenLifetime+time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rotated {
		t.Fatal("expected rotation")
	}
	current, err := svc.EnsurePublicToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if current == token {
		t.Error("expected a new public token after rotation")
	}
}
