package hotmart

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// WebhookEvent is the normalized shape extracted from a Hotmart webhook
// payload. Hotmart sends several payload generations, so every field is
// resolved through an explicit fallback chain.
type WebhookEvent struct {
	EventID        string
	PurchaseEmail  string
	SubscriptionID string
	Status         string
	Plan           string
}

// flexString accepts JSON strings and numbers; Hotmart emits subscription
// ids as either depending on payload generation.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexPlan accepts a plain plan string or a {"name": ...} object.
type flexPlan string

func (f *flexPlan) UnmarshalJSON(data []byte) error {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '{' {
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*f = flexPlan(obj.Name)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexPlan(s)
	return nil
}

// ParseWebhookEvent extracts the purchase email, subscription id, status
// and plan from a webhook payload. Field resolution order:
//
//	email:  buyer.email > subscriber.email > buyer_email
//	sub id: subscription.id > purchase.id > subscription_id
//	status: subscription.status > purchase.status > status > purchase_status
//	plan:   subscription.plan > purchase.plan > plan
//
// One-off purchases carry the same object under "purchase" instead of
// "subscription".
//
// A payload with no resolvable purchase email is rejected before any
// further processing.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	type rawPerson struct {
		Email string `json:"email"`
	}
	type rawSubscription struct {
		ID     flexString `json:"id"`
		Status string     `json:"status"`
		Plan   flexPlan   `json:"plan"`
	}
	type rawPayload struct {
		ID             string          `json:"id"`
		Event          string          `json:"event"`
		Buyer          rawPerson       `json:"buyer"`
		Subscriber     rawPerson       `json:"subscriber"`
		BuyerEmail     string          `json:"buyer_email"`
		Subscription   rawSubscription `json:"subscription"`
		Purchase       rawSubscription `json:"purchase"`
		SubscriptionID flexString      `json:"subscription_id"`
		Status         string          `json:"status"`
		PurchaseStatus string          `json:"purchase_status"`
		Plan           flexPlan        `json:"plan"`
	}

	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("malformed webhook payload: %w", err)
	}

	email := firstNonEmpty(raw.Buyer.Email, raw.Subscriber.Email, raw.BuyerEmail)
	if email == "" {
		return nil, errors.New("webhook payload missing buyer email")
	}

	out := &WebhookEvent{
		EventID:        strings.TrimSpace(raw.ID),
		PurchaseEmail:  email,
		SubscriptionID: firstNonEmpty(string(raw.Subscription.ID), string(raw.Purchase.ID), string(raw.SubscriptionID)),
		Status:         strings.ToUpper(firstNonEmpty(raw.Subscription.Status, raw.Purchase.Status, raw.Status, raw.PurchaseStatus)),
		Plan:           firstNonEmpty(string(raw.Subscription.Plan), string(raw.Purchase.Plan), string(raw.Plan)),
	}
	return out, nil
}

// VerifyWebhookToken checks the X-Hotmart-Hottok shared secret sent with
// every webhook delivery.
func VerifyWebhookToken(tokenHeader, webhookSecret string) bool {
	token := strings.TrimSpace(tokenHeader)
	secret := strings.TrimSpace(webhookSecret)
	if token == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

// FallbackEventID derives a deterministic event id from the payload for
// deliveries that carry no id, so replays still deduplicate.
func FallbackEventID(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "hash:" + hex.EncodeToString(sum[:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
