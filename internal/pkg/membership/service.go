package membership

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/guildgate/guildgate/app/models"
)

// SubscriptionEvent is the normalized inbound notification consumed by
// ProcessSubscriptionEvent. Producers (the Hotmart webhook parser) resolve
// provider field-name variants before handing it over.
type SubscriptionEvent struct {
	// The provider owns the email format; only presence is enforced so an
	// odd-but-present value still merges.
	PurchaseEmail  string `validate:"required"`
	SubscriptionID string
	Status         string
	Plan           string
}

// SyncResult distinguishes "record merged" from "role state fully
// synchronized". RolesSynced is true when the member's roles are
// consistent with the record after the operation, including the case
// where no mutation was needed. When a best-effort role mutation failed,
// RolesSynced is false and RoleErr carries the cause.
type SyncResult struct {
	Member         *models.Member
	Classification Classification
	RolesSynced    bool
	RoleErr        error
}

// Service reconciles member records from the two event sources and keeps
// Discord role state in sync. Each call is an independent unit of work;
// concurrent calls for the same purchase email race last-write-wins.
type Service struct {
	store    Store
	access   AccessClient
	roles    RoleSet
	validate *validator.Validate
}

func NewService(store Store, access AccessClient, roles RoleSet) *Service {
	return &Service{
		store:    store,
		access:   access,
		roles:    roles,
		validate: validator.New(),
	}
}

// Store exposes the underlying member store for read-only consumers
// (admin listing, admission gate).
func (s *Service) Store() Store {
	return s.store
}

// ProcessSubscriptionEvent merges a subscription notification into the
// member record and, when a Discord identity is already linked, applies
// the derived role change. The store write always happens before any role
// call and is never rolled back by one.
func (s *Service) ProcessSubscriptionEvent(ctx context.Context, ev SubscriptionEvent) (*SyncResult, error) {
	ev.PurchaseEmail = strings.TrimSpace(ev.PurchaseEmail)
	ev.Status = strings.ToUpper(strings.TrimSpace(ev.Status))
	if err := s.validate.Struct(ev); err != nil {
		return nil, &ValidationError{Field: "purchase_email", Reason: "purchase email is missing"}
	}

	member, err := s.loadOrCreate(ctx, ev.PurchaseEmail)
	if err != nil {
		return nil, err
	}

	// Subscription events own these three fields unconditionally; the
	// linked identity is never touched from this path.
	member.SubscriptionID = ev.SubscriptionID
	member.SubscriptionStatus = ev.Status
	member.Plan = ev.Plan

	if err := s.store.Upsert(ctx, member); err != nil {
		return nil, &StoreError{Op: "upsert", Err: err}
	}

	res := &SyncResult{
		Member:         member,
		Classification: Classify(ev.Status),
		RolesSynced:    true,
	}
	if member.DiscordUserID != "" {
		s.applyRoles(ctx, member.DiscordUserID, res)
	}
	return res, nil
}

// CompleteLink finishes the OAuth handshake: it resolves the authorization
// code to a Discord identity, joins the user to the guild, merges the
// identity into the member record and re-applies roles from whatever
// subscription status is already on record.
func (s *Service) CompleteLink(ctx context.Context, code, purchaseEmail string) (*SyncResult, error) {
	code = strings.TrimSpace(code)
	purchaseEmail = strings.TrimSpace(purchaseEmail)
	if code == "" {
		return nil, &ValidationError{Field: "code", Reason: "authorization code is missing"}
	}
	if purchaseEmail == "" {
		return nil, &ValidationError{Field: "state", Reason: "purchase email correlator is missing"}
	}

	accessToken, err := s.access.ExchangeCode(ctx, code)
	if err != nil {
		return nil, &AuthError{Op: "token exchange", Err: err}
	}
	discordUserID, err := s.access.ResolveIdentity(ctx, accessToken)
	if err != nil {
		return nil, &AuthError{Op: "identity resolution", Err: err}
	}

	// The client absorbs "already a member"; anything surfacing here is a
	// real failure and aborts before the record merge.
	if err := s.access.AddGuildMember(ctx, discordUserID, accessToken); err != nil {
		return nil, &RoleMutationError{Op: "guild join", Err: err}
	}

	member, err := s.loadOrCreate(ctx, purchaseEmail)
	if err != nil {
		return nil, err
	}
	member.DiscordUserID = discordUserID
	if err := s.store.Upsert(ctx, member); err != nil {
		return nil, &StoreError{Op: "upsert", Err: err}
	}

	res := &SyncResult{
		Member:         member,
		Classification: Classify(member.SubscriptionStatus),
		RolesSynced:    true,
	}
	s.applyRoles(ctx, discordUserID, res)
	return res, nil
}

// ResyncMember re-derives and re-applies role state from the stored
// record without consulting the provider.
func (s *Service) ResyncMember(ctx context.Context, purchaseEmail string) (*SyncResult, error) {
	member, err := s.store.Get(ctx, purchaseEmail)
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			return nil, err
		}
		return nil, &StoreError{Op: "get", Err: err}
	}
	if member.DiscordUserID == "" {
		return nil, &ValidationError{Field: "discord_user_id", Reason: "member has no linked discord identity"}
	}

	res := &SyncResult{
		Member:         member,
		Classification: Classify(member.SubscriptionStatus),
		RolesSynced:    true,
	}
	s.applyRoles(ctx, member.DiscordUserID, res)
	return res, nil
}

func (s *Service) loadOrCreate(ctx context.Context, purchaseEmail string) (*models.Member, error) {
	member, err := s.store.Get(ctx, purchaseEmail)
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			return &models.Member{PurchaseEmail: purchaseEmail}, nil
		}
		return nil, &StoreError{Op: "get", Err: err}
	}
	return member, nil
}

// applyRoles applies the derived role change, grant before revoke, so a
// member is never transiently left without either role. Both mutations
// are attempted once; failures are logged and reported via the result,
// never propagated.
func (s *Service) applyRoles(ctx context.Context, discordUserID string, res *SyncResult) {
	change := DeriveRoleChange(res.Classification, s.roles)
	if change.IsNoop() {
		return
	}

	var grantErr, revokeErr error
	if change.Grant != "" {
		if err := s.access.GrantRole(ctx, discordUserID, change.Grant); err != nil {
			grantErr = &RoleMutationError{Op: "grant " + change.Grant, Err: err}
			log.Printf("role grant failed for discord user %s: %v", discordUserID, err)
		}
	}
	if change.Revoke != "" {
		if err := s.access.RevokeRole(ctx, discordUserID, change.Revoke); err != nil {
			revokeErr = &RoleMutationError{Op: "revoke " + change.Revoke, Err: err}
			log.Printf("role revoke failed for discord user %s: %v", discordUserID, err)
		}
	}
	if grantErr != nil || revokeErr != nil {
		res.RolesSynced = false
		res.RoleErr = errors.Join(grantErr, revokeErr)
	}
}
