package subscribers

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/herald/pkg/models"
	"github.com/dukex/herald/pkg/persistence/memory"
)

func TestDedupeKeepsRichestForm(t *testing.T) {
	recipients := []*models.SubscriberDefine{
		{SubscriberID: "sub-1", Email: "first@example.com"},
		{SubscriberID: "sub-2"},
		{SubscriberID: "sub-1", FirstName: "Ada", Email: ""},
	}

	deduped, err := Dedupe(recipients)
	require.NoError(t, err)
	require.Len(t, deduped, 2)

	assert.Equal(t, "sub-1", deduped[0].SubscriberID)
	assert.Equal(t, "Ada", deduped[0].FirstName)
	// The later empty email must not erase the earlier value.
	assert.Equal(t, "first@example.com", deduped[0].Email)
	assert.Equal(t, "sub-2", deduped[1].SubscriberID)
}

func TestDedupeRejectsMissingSubscriberID(t *testing.T) {
	_, err := Dedupe([]*models.SubscriberDefine{
		{SubscriberID: "sub-1"},
		{Email: "no-id@example.com"},
	})
	assert.ErrorIs(t, err, ErrMissingSubscriberID)
}

func TestResolveCreatesUnknownSubscriber(t *testing.T) {
	store := memory.NewPersistence()
	resolver := NewResolver(slog.Default(), store.Subscribers())

	resolved, err := resolver.Resolve(context.Background(), "env-1", []*models.SubscriberDefine{
		{SubscriberID: "sub-1", Email: "ada@example.com", FirstName: "Ada"},
	})
	require.NoError(t, err)
	require.Len(t, resolved, 1)

	stored, err := store.Subscribers().GetBySubscriberID(context.Background(), "env-1", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", stored.Email)
	assert.Equal(t, "Ada", stored.FirstName)
}

func TestResolveMergesWithoutErasing(t *testing.T) {
	store := memory.NewPersistence()
	resolver := NewResolver(slog.Default(), store.Subscribers())

	_, err := resolver.Resolve(context.Background(), "env-1", []*models.SubscriberDefine{
		{SubscriberID: "sub-1", Email: "ada@example.com", Phone: "+100"},
	})
	require.NoError(t, err)

	// Second trigger carries a new phone but an empty email.
	_, err = resolver.Resolve(context.Background(), "env-1", []*models.SubscriberDefine{
		{SubscriberID: "sub-1", Phone: "+200"},
	})
	require.NoError(t, err)

	stored, err := store.Subscribers().GetBySubscriberID(context.Background(), "env-1", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "+200", stored.Phone)
	assert.Equal(t, "ada@example.com", stored.Email)
}

func TestResolveIsScopedByEnvironment(t *testing.T) {
	store := memory.NewPersistence()
	resolver := NewResolver(slog.Default(), store.Subscribers())

	_, err := resolver.Resolve(context.Background(), "env-1", []*models.SubscriberDefine{
		{SubscriberID: "sub-1", Email: "one@example.com"},
	})
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), "env-2", []*models.SubscriberDefine{
		{SubscriberID: "sub-1", Email: "two@example.com"},
	})
	require.NoError(t, err)

	one, err := store.Subscribers().GetBySubscriberID(context.Background(), "env-1", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "one@example.com", one.Email)

	two, err := store.Subscribers().GetBySubscriberID(context.Background(), "env-2", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "two@example.com", two.Email)
}

func TestResolveExpandsTopicRecipients(t *testing.T) {
	store := memory.NewPersistence()
	resolver := NewResolver(slog.Default(), store.Subscribers())
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, "env-1", []*models.SubscriberDefine{
		{SubscriberID: "sub-1", Topics: []string{"billing"}},
		{SubscriberID: "sub-2", Topics: []string{"billing", "outages"}},
		{SubscriberID: "sub-3"},
	})
	require.NoError(t, err)

	resolved, err := resolver.Resolve(ctx, "env-1", []*models.SubscriberDefine{
		{SubscriberID: "topic:billing"},
	})
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	assert.Equal(t, "sub-1", resolved[0].SubscriberID)
	assert.Equal(t, "sub-2", resolved[1].SubscriberID)
}

func TestResolveTopicAndDirectRecipientsDedupe(t *testing.T) {
	store := memory.NewPersistence()
	resolver := NewResolver(slog.Default(), store.Subscribers())
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, "env-1", []*models.SubscriberDefine{
		{SubscriberID: "sub-1", Topics: []string{"outages"}},
	})
	require.NoError(t, err)

	resolved, err := resolver.Resolve(ctx, "env-1", []*models.SubscriberDefine{
		{SubscriberID: "sub-1", FirstName: "Ada"},
		{SubscriberID: "topic:outages"},
	})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "Ada", resolved[0].FirstName)
}

func TestResolveEmptyTopicContributesNothing(t *testing.T) {
	store := memory.NewPersistence()
	resolver := NewResolver(slog.Default(), store.Subscribers())

	resolved, err := resolver.Resolve(context.Background(), "env-1", []*models.SubscriberDefine{
		{SubscriberID: "topic:ghost"},
	})
	require.NoError(t, err)
	assert.Empty(t, resolved)
}

func TestResolveTopicsAreEnvironmentScoped(t *testing.T) {
	store := memory.NewPersistence()
	resolver := NewResolver(slog.Default(), store.Subscribers())
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, "env-1", []*models.SubscriberDefine{
		{SubscriberID: "sub-1", Topics: []string{"billing"}},
	})
	require.NoError(t, err)

	resolved, err := resolver.Resolve(ctx, "env-2", []*models.SubscriberDefine{
		{SubscriberID: "topic:billing"},
	})
	require.NoError(t, err)
	assert.Empty(t, resolved)
}
