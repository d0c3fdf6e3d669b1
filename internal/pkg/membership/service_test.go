package membership

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildgate/guildgate/app/models"
)

// fakeAccess records every access-control call in order and tracks the
// resulting role state per user.
type fakeAccess struct {
	calls []string
	roles map[string]map[string]bool // userID -> roleID -> held

	userID string

	failExchange bool
	failResolve  bool
	failJoin     bool
	failGrant    bool
	failRevoke   bool
}

func newFakeAccess(userID string) *fakeAccess {
	return &fakeAccess{userID: userID, roles: map[string]map[string]bool{}}
}

func (f *fakeAccess) ExchangeCode(_ context.Context, code string) (string, error) {
	f.calls = append(f.calls, "exchange:"+code)
	if f.failExchange {
		return "", errors.New("exchange refused")
	}
	return "tok-" + code, nil
}

func (f *fakeAccess) ResolveIdentity(_ context.Context, token string) (string, error) {
	f.calls = append(f.calls, "resolve:"+token)
	if f.failResolve {
		return "", errors.New("identity refused")
	}
	return f.userID, nil
}

func (f *fakeAccess) AddGuildMember(_ context.Context, userID, _ string) error {
	f.calls = append(f.calls, "join:"+userID)
	if f.failJoin {
		return errors.New("guild join refused")
	}
	return nil
}

func (f *fakeAccess) GrantRole(_ context.Context, userID, roleID string) error {
	f.calls = append(f.calls, fmt.Sprintf("grant:%s:%s", userID, roleID))
	if f.failGrant {
		return errors.New("grant refused")
	}
	if f.roles[userID] == nil {
		f.roles[userID] = map[string]bool{}
	}
	f.roles[userID][roleID] = true
	return nil
}

func (f *fakeAccess) RevokeRole(_ context.Context, userID, roleID string) error {
	f.calls = append(f.calls, fmt.Sprintf("revoke:%s:%s", userID, roleID))
	if f.failRevoke {
		return errors.New("revoke refused")
	}
	if f.roles[userID] == nil {
		f.roles[userID] = map[string]bool{}
	}
	f.roles[userID][roleID] = false
	return nil
}

// failingStore errors on every operation, simulating an unavailable
// backend.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (*models.Member, error) {
	return nil, errors.New("store down")
}
func (failingStore) Upsert(context.Context, *models.Member) error {
	return errors.New("store down")
}
func (failingStore) ListAll(context.Context) ([]models.Member, error) {
	return nil, errors.New("store down")
}

var testRoles = RoleSet{Primary: "role_primary", Pending: "role_pending"}

func newTestService(access AccessClient) (*Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(store, access, testRoles), store
}

func TestProcessSubscriptionEvent_CreatesRecord(t *testing.T) {
	access := newFakeAccess("u1")
	svc, store := newTestService(access)

	res, err := svc.ProcessSubscriptionEvent(context.Background(), SubscriptionEvent{
		PurchaseEmail:  "a@x.com",
		SubscriptionID: "sub-1",
		Status:         "approved",
		Plan:           "monthly",
	})
	require.NoError(t, err)
	assert.Equal(t, ClassActive, res.Classification)
	assert.True(t, res.RolesSynced)

	member, err := store.Get(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "sub-1", member.SubscriptionID)
	assert.Equal(t, "APPROVED", member.SubscriptionStatus, "raw status is stored uppercased")
	assert.Equal(t, "monthly", member.Plan)
	assert.Empty(t, member.DiscordUserID)

	// No identity linked yet, so no role calls.
	assert.Empty(t, access.calls)
}

func TestProcessSubscriptionEvent_MissingEmail(t *testing.T) {
	access := newFakeAccess("u1")
	svc, store := newTestService(access)

	_, err := svc.ProcessSubscriptionEvent(context.Background(), SubscriptionEvent{
		Status: "APPROVED",
	})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)

	members, listErr := store.ListAll(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, members, "no store write on validation failure")
	assert.Empty(t, access.calls)
}

func TestProcessSubscriptionEvent_UnusualEmailValueStillMerges(t *testing.T) {
	svc, store := newTestService(newFakeAccess("u1"))

	// The provider owns the email format; any present value is accepted.
	_, err := svc.ProcessSubscriptionEvent(context.Background(), SubscriptionEvent{
		PurchaseEmail: "buyer-id-00123",
		Status:        "APPROVED",
	})
	require.NoError(t, err)

	member, err := store.Get(context.Background(), "buyer-id-00123")
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", member.SubscriptionStatus)
}

func TestProcessSubscriptionEvent_UnknownStatusPersistsWithoutRoleCalls(t *testing.T) {
	access := newFakeAccess("u1")
	svc, store := newTestService(access)

	// Even with a linked identity an unknown status must not touch roles.
	require.NoError(t, store.Upsert(context.Background(), &models.Member{
		PurchaseEmail: "c@x.com",
		DiscordUserID: "u1",
	}))

	res, err := svc.ProcessSubscriptionEvent(context.Background(), SubscriptionEvent{
		PurchaseEmail: "c@x.com",
		Status:        "SOMETHING_ELSE",
	})
	require.NoError(t, err)
	assert.Equal(t, ClassUnknown, res.Classification)
	assert.True(t, res.RolesSynced)
	assert.Empty(t, access.calls)

	member, err := store.Get(context.Background(), "c@x.com")
	require.NoError(t, err)
	assert.Equal(t, "SOMETHING_ELSE", member.SubscriptionStatus)
}

func TestSubscriptionThenLink(t *testing.T) {
	access := newFakeAccess("u42")
	svc, store := newTestService(access)

	_, err := svc.ProcessSubscriptionEvent(context.Background(), SubscriptionEvent{
		PurchaseEmail: "a@x.com",
		Status:        "APPROVED",
	})
	require.NoError(t, err)

	res, err := svc.CompleteLink(context.Background(), "code-1", "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, ClassActive, res.Classification)
	assert.True(t, res.RolesSynced)

	member, err := store.Get(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "u42", member.DiscordUserID)
	assert.Equal(t, "APPROVED", member.SubscriptionStatus)

	assert.True(t, access.roles["u42"]["role_primary"])
	assert.False(t, access.roles["u42"]["role_pending"])
}

func TestLinkThenSubscription(t *testing.T) {
	access := newFakeAccess("u7")
	svc, store := newTestService(access)

	res, err := svc.CompleteLink(context.Background(), "code-2", "b@x.com")
	require.NoError(t, err)
	assert.Equal(t, ClassUnknown, res.Classification, "no subscription on record yet")

	// Identity linked before any subscription event: record exists with
	// an empty status and no role calls beyond the guild join.
	member, err := store.Get(context.Background(), "b@x.com")
	require.NoError(t, err)
	assert.Equal(t, "u7", member.DiscordUserID)
	assert.Empty(t, member.SubscriptionStatus)

	_, err = svc.ProcessSubscriptionEvent(context.Background(), SubscriptionEvent{
		PurchaseEmail: "b@x.com",
		Status:        "CANCELLED",
	})
	require.NoError(t, err)

	assert.True(t, access.roles["u7"]["role_pending"])
	assert.False(t, access.roles["u7"]["role_primary"])
}

func TestArrivalOrderIndependence(t *testing.T) {
	run := func(linkFirst bool) (*models.Member, map[string]bool) {
		access := newFakeAccess("u9")
		svc, store := newTestService(access)

		link := func() {
			_, err := svc.CompleteLink(context.Background(), "code-9", "o@x.com")
			require.NoError(t, err)
		}
		subscribe := func() {
			_, err := svc.ProcessSubscriptionEvent(context.Background(), SubscriptionEvent{
				PurchaseEmail:  "o@x.com",
				SubscriptionID: "sub-9",
				Status:         "PAID",
				Plan:           "yearly",
			})
			require.NoError(t, err)
		}

		if linkFirst {
			link()
			subscribe()
		} else {
			subscribe()
			link()
		}

		member, err := store.Get(context.Background(), "o@x.com")
		require.NoError(t, err)
		return member, access.roles["u9"]
	}

	m1, roles1 := run(true)
	m2, roles2 := run(false)

	assert.Equal(t, m1.PurchaseEmail, m2.PurchaseEmail)
	assert.Equal(t, m1.SubscriptionID, m2.SubscriptionID)
	assert.Equal(t, m1.SubscriptionStatus, m2.SubscriptionStatus)
	assert.Equal(t, m1.Plan, m2.Plan)
	assert.Equal(t, m1.DiscordUserID, m2.DiscordUserID)
	assert.Equal(t, roles1, roles2)
}

func TestSubscriptionEventReplayIsIdempotent(t *testing.T) {
	access := newFakeAccess("u3")
	svc, store := newTestService(access)

	_, err := svc.CompleteLink(context.Background(), "code-3", "r@x.com")
	require.NoError(t, err)

	ev := SubscriptionEvent{
		PurchaseEmail:  "r@x.com",
		SubscriptionID: "sub-3",
		Status:         "APPROVED",
		Plan:           "monthly",
	}
	_, err = svc.ProcessSubscriptionEvent(context.Background(), ev)
	require.NoError(t, err)
	first, err := store.Get(context.Background(), "r@x.com")
	require.NoError(t, err)

	_, err = svc.ProcessSubscriptionEvent(context.Background(), ev)
	require.NoError(t, err)
	second, err := store.Get(context.Background(), "r@x.com")
	require.NoError(t, err)

	assert.Equal(t, first.SubscriptionID, second.SubscriptionID)
	assert.Equal(t, first.SubscriptionStatus, second.SubscriptionStatus)
	assert.Equal(t, first.Plan, second.Plan)
	assert.Equal(t, first.DiscordUserID, second.DiscordUserID)

	assert.True(t, access.roles["u3"]["role_primary"])
	assert.False(t, access.roles["u3"]["role_pending"])
}

func TestFieldIsolation(t *testing.T) {
	access := newFakeAccess("u5")
	svc, store := newTestService(access)

	_, err := svc.CompleteLink(context.Background(), "code-5", "i@x.com")
	require.NoError(t, err)

	_, err = svc.ProcessSubscriptionEvent(context.Background(), SubscriptionEvent{
		PurchaseEmail:  "i@x.com",
		SubscriptionID: "sub-5",
		Status:         "APPROVED",
		Plan:           "monthly",
	})
	require.NoError(t, err)

	member, err := store.Get(context.Background(), "i@x.com")
	require.NoError(t, err)
	assert.Equal(t, "u5", member.DiscordUserID, "subscription event must not clear the linked identity")

	// Linking again must not disturb the subscription fields.
	_, err = svc.CompleteLink(context.Background(), "code-5b", "i@x.com")
	require.NoError(t, err)

	member, err = store.Get(context.Background(), "i@x.com")
	require.NoError(t, err)
	assert.Equal(t, "sub-5", member.SubscriptionID)
	assert.Equal(t, "APPROVED", member.SubscriptionStatus)
	assert.Equal(t, "monthly", member.Plan)
}

func TestGrantAppliedBeforeRevoke(t *testing.T) {
	access := newFakeAccess("u8")
	svc, _ := newTestService(access)

	_, err := svc.CompleteLink(context.Background(), "code-8", "g@x.com")
	require.NoError(t, err)
	access.calls = nil

	_, err = svc.ProcessSubscriptionEvent(context.Background(), SubscriptionEvent{
		PurchaseEmail: "g@x.com",
		Status:        "APPROVED",
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		"grant:u8:role_primary",
		"revoke:u8:role_pending",
	}, access.calls)
}

func TestRoleFailureDoesNotFailTheMerge(t *testing.T) {
	access := newFakeAccess("u6")
	access.failGrant = true
	svc, store := newTestService(access)

	_, err := svc.CompleteLink(context.Background(), "code-6", "f@x.com")
	require.NoError(t, err)

	res, err := svc.ProcessSubscriptionEvent(context.Background(), SubscriptionEvent{
		PurchaseEmail: "f@x.com",
		Status:        "APPROVED",
	})
	require.NoError(t, err, "role failures are non-fatal")
	assert.False(t, res.RolesSynced)

	var roleErr *RoleMutationError
	require.ErrorAs(t, res.RoleErr, &roleErr)

	member, err := store.Get(context.Background(), "f@x.com")
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", member.SubscriptionStatus, "store write survives role failure")

	// The revoke is still attempted after the failed grant.
	assert.Contains(t, access.calls, "revoke:u6:role_pending")
}

func TestStoreFailureSurfacesAsStoreError(t *testing.T) {
	svc := NewService(failingStore{}, newFakeAccess("u1"), testRoles)

	_, err := svc.ProcessSubscriptionEvent(context.Background(), SubscriptionEvent{
		PurchaseEmail: "s@x.com",
		Status:        "APPROVED",
	})
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
}

func TestCompleteLink_ExchangeFailureAborts(t *testing.T) {
	access := newFakeAccess("u1")
	access.failExchange = true
	svc, store := newTestService(access)

	_, err := svc.CompleteLink(context.Background(), "bad-code", "e@x.com")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)

	_, getErr := store.Get(context.Background(), "e@x.com")
	assert.ErrorIs(t, getErr, ErrMemberNotFound, "no record is created when the exchange fails")
}

func TestCompleteLink_GuildJoinFailureAborts(t *testing.T) {
	access := newFakeAccess("u1")
	access.failJoin = true
	svc, store := newTestService(access)

	_, err := svc.CompleteLink(context.Background(), "code", "j@x.com")
	var roleErr *RoleMutationError
	require.ErrorAs(t, err, &roleErr)

	_, getErr := store.Get(context.Background(), "j@x.com")
	assert.ErrorIs(t, getErr, ErrMemberNotFound)
}

func TestCompleteLink_MissingInputs(t *testing.T) {
	svc, _ := newTestService(newFakeAccess("u1"))

	var vErr *ValidationError
	_, err := svc.CompleteLink(context.Background(), "", "a@x.com")
	require.ErrorAs(t, err, &vErr)

	_, err = svc.CompleteLink(context.Background(), "code", "")
	require.ErrorAs(t, err, &vErr)
}

func TestResyncMember(t *testing.T) {
	access := newFakeAccess("u11")
	svc, store := newTestService(access)

	_, err := svc.ResyncMember(context.Background(), "missing@x.com")
	assert.ErrorIs(t, err, ErrMemberNotFound)

	require.NoError(t, store.Upsert(context.Background(), &models.Member{
		PurchaseEmail: "unlinked@x.com",
	}))
	var vErr *ValidationError
	_, err = svc.ResyncMember(context.Background(), "unlinked@x.com")
	require.ErrorAs(t, err, &vErr)

	require.NoError(t, store.Upsert(context.Background(), &models.Member{
		PurchaseEmail:      "linked@x.com",
		SubscriptionStatus: "OVERDUE",
		DiscordUserID:      "u11",
	}))
	res, err := svc.ResyncMember(context.Background(), "linked@x.com")
	require.NoError(t, err)
	assert.Equal(t, ClassInactive, res.Classification)
	assert.True(t, access.roles["u11"]["role_pending"])
	assert.False(t, access.roles["u11"]["role_primary"])
}
