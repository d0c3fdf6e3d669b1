package controllers

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildgate/guildgate/app/models"
	"github.com/guildgate/guildgate/internal/pkg/membership"
)

const testHottok = "hottok-secret"

// noopAccess satisfies membership.AccessClient for handler tests that
// never exercise role mutations.
type noopAccess struct{}

func (noopAccess) ExchangeCode(context.Context, string) (string, error) { return "tok", nil }
func (noopAccess) ResolveIdentity(context.Context, string) (string, error) {
	return "discord-user", nil
}
func (noopAccess) AddGuildMember(context.Context, string, string) error { return nil }
func (noopAccess) GrantRole(context.Context, string, string) error      { return nil }
func (noopAccess) RevokeRole(context.Context, string, string) error     { return nil }

func newWebhookTestApp(t *testing.T) (*fiber.App, *membership.MemoryStore, *membership.MemoryEventStore) {
	t.Helper()

	store := membership.NewMemoryStore()
	events := membership.NewMemoryEventStore()
	svc := membership.NewService(store, noopAccess{}, membership.RoleSet{Primary: "rp", Pending: "rq"})

	app := fiber.New()
	app.Post("/webhooks/hotmart", NewWebhookController(svc, events, testHottok).HandleHotmartWebhook)
	return app, store, events
}

func postWebhook(t *testing.T, app *fiber.App, body string, headers map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("POST", "/webhooks/hotmart", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(respBody)
}

func TestHandleHotmartWebhook_RejectsBadHottok(t *testing.T) {
	app, store, _ := newWebhookTestApp(t)

	status, _ := postWebhook(t, app, `{"buyer":{"email":"a@x.com"}}`, map[string]string{
		"X-Hotmart-Hottok": "wrong",
	})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = postWebhook(t, app, `{"buyer":{"email":"a@x.com"}}`, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	_, err := store.Get(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, membership.ErrMemberNotFound)
}

func TestHandleHotmartWebhook_ProcessesEvent(t *testing.T) {
	app, store, _ := newWebhookTestApp(t)

	status, body := postWebhook(t, app,
		`{"id":"evt-1","buyer":{"email":"a@x.com"},"subscription":{"id":"sub-1","status":"APPROVED","plan":"Gold"}}`,
		map[string]string{"X-Hotmart-Hottok": testHottok})

	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, `"roles_synced":true`)

	member, err := store.Get(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "sub-1", member.SubscriptionID)
	assert.Equal(t, "APPROVED", member.SubscriptionStatus)
	assert.Equal(t, "Gold", member.Plan)
}

func TestHandleHotmartWebhook_DuplicateDeliveryAcknowledged(t *testing.T) {
	app, store, _ := newWebhookTestApp(t)
	payload := `{"id":"evt-dup","buyer":{"email":"a@x.com"},"subscription":{"status":"APPROVED"}}`
	headers := map[string]string{"X-Hotmart-Hottok": testHottok}

	status, _ := postWebhook(t, app, payload, headers)
	assert.Equal(t, fiber.StatusOK, status)

	// Overwrite the record so a reprocessed duplicate would be visible.
	member, err := store.Get(context.Background(), "a@x.com")
	require.NoError(t, err)
	member.SubscriptionStatus = "CANCELLED"
	require.NoError(t, store.Upsert(context.Background(), member))

	status, body := postWebhook(t, app, payload, headers)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, `"duplicate":true`)

	member, err = store.Get(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", member.SubscriptionStatus, "duplicate deliveries are not reprocessed")
}

func TestHandleHotmartWebhook_MalformedPayloadWritesNothing(t *testing.T) {
	app, store, _ := newWebhookTestApp(t)
	headers := map[string]string{"X-Hotmart-Hottok": testHottok}

	status, _ := postWebhook(t, app, `{"buyer":`, headers)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = postWebhook(t, app, `{"subscription":{"status":"APPROVED"}}`, headers)
	assert.Equal(t, fiber.StatusBadRequest, status)

	members, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestHandleHotmartWebhook_DedupPrefersDeliveryHeader(t *testing.T) {
	app, _, _ := newWebhookTestApp(t)
	headers := map[string]string{
		"X-Hotmart-Hottok":   testHottok,
		"X-Hotmart-Delivery": "delivery-1",
	}

	status, _ := postWebhook(t, app, `{"buyer":{"email":"a@x.com"},"subscription":{"status":"APPROVED"}}`, headers)
	assert.Equal(t, fiber.StatusOK, status)

	// Different payload, same delivery id: still a duplicate.
	status, body := postWebhook(t, app, `{"buyer":{"email":"b@x.com"},"subscription":{"status":"APPROVED"}}`, headers)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, `"duplicate":true`)
}

func TestHandleHotmartWebhook_RoleFailureStillAcks(t *testing.T) {
	store := membership.NewMemoryStore()
	events := membership.NewMemoryEventStore()
	svc := membership.NewService(store, failRolesAccess{}, membership.RoleSet{Primary: "rp", Pending: "rq"})

	app := fiber.New()
	app.Post("/webhooks/hotmart", NewWebhookController(svc, events, testHottok).HandleHotmartWebhook)

	// Seed a linked member so the webhook triggers role calls.
	_, err := svc.CompleteLink(context.Background(), "code", "a@x.com")
	require.NoError(t, err)

	status, body := postWebhook(t, app,
		`{"id":"evt-rf","buyer":{"email":"a@x.com"},"subscription":{"status":"APPROVED"}}`,
		map[string]string{"X-Hotmart-Hottok": testHottok})

	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, `"roles_synced":false`)
}

// flakyStore fails the first n upserts, then recovers.
type flakyStore struct {
	*membership.MemoryStore
	failures int
}

func (s *flakyStore) Upsert(ctx context.Context, m *models.Member) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("store down")
	}
	return s.MemoryStore.Upsert(ctx, m)
}

func TestHandleHotmartWebhook_RetryAfterStoreFailureReprocesses(t *testing.T) {
	store := &flakyStore{MemoryStore: membership.NewMemoryStore(), failures: 1}
	events := membership.NewMemoryEventStore()
	svc := membership.NewService(store, noopAccess{}, membership.RoleSet{Primary: "rp", Pending: "rq"})

	app := fiber.New()
	app.Post("/webhooks/hotmart", NewWebhookController(svc, events, testHottok).HandleHotmartWebhook)

	payload := `{"buyer":{"email":"a@x.com"},"subscription":{"id":"sub-1","status":"APPROVED"}}`
	headers := map[string]string{
		"X-Hotmart-Hottok":   testHottok,
		"X-Hotmart-Delivery": "delivery-retry",
	}

	status, _ := postWebhook(t, app, payload, headers)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	_, err := store.Get(context.Background(), "a@x.com")
	require.ErrorIs(t, err, membership.ErrMemberNotFound)

	// The provider retries with the same delivery id; the failed delivery
	// must be reprocessed, not swallowed as a duplicate.
	status, body := postWebhook(t, app, payload, headers)
	assert.Equal(t, fiber.StatusOK, status)
	assert.NotContains(t, body, "duplicate")

	member, err := store.Get(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", member.SubscriptionStatus)

	// A further replay of the now-processed delivery is a duplicate.
	status, body = postWebhook(t, app, payload, headers)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, `"duplicate":true`)
}

// failRolesAccess links fine but fails every role mutation.
type failRolesAccess struct{ noopAccess }

func (failRolesAccess) GrantRole(context.Context, string, string) error {
	return errors.New("discord unavailable")
}
func (failRolesAccess) RevokeRole(context.Context, string, string) error {
	return errors.New("discord unavailable")
}
