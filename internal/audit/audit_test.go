package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acquiro/gateway/internal/domain"
)

type fakeRepo struct {
	entries []*domain.AuditEntry
}

func (r *fakeRepo) Append(ctx context.Context, entry *domain.AuditEntry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func TestRecord_RedactsCardNumberInDetails(t *testing.T) {
	repo := &fakeRepo{}
	l := New(repo)

	err := l.Record(context.Background(), "payment-1", "SYSTEM", "orchestrator", "AUTHORIZE_ATTEMPT", `card 4242424242424242 attempted`)

	require.NoError(t, err)
	require.Len(t, repo.entries, 1)
	assert.Contains(t, repo.entries[0].Details, "****4242")
	assert.NotContains(t, repo.entries[0].Details, "4242424242424242")
}

func TestRecord_RedactsCVV(t *testing.T) {
	repo := &fakeRepo{}
	l := New(repo)

	err := l.Record(context.Background(), "payment-1", "SYSTEM", "orchestrator", "TOKENIZE", `{"cvv":"123"}`)

	require.NoError(t, err)
	assert.NotContains(t, repo.entries[0].Details, `"cvv":"123"`)
}
