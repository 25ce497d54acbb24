package orchestrators

import (
	"bytes"
	"cmp"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	accountStore "academy/internal/adapters/storage/account"
	courseStore "academy/internal/adapters/storage/course"
	purchaseStore "academy/internal/adapters/storage/purchase"
	courseDomain "academy/internal/domain/course"
	dripDomain "academy/internal/domain/drip"
	purchaseDomain "academy/internal/domain/purchase"
)

// SignatureHeader carries the provider's HMAC of the event data.
const SignatureHeader = "X-Portaly-Signature"

// Webhook event types.
const (
	EventPaid   = "paid"
	EventRefund = "refund"
)

// Webhook validation errors.
var (
	ErrMissingOrderID       = errors.New("webhook: order id is required")
	ErrMissingCustomerEmail = errors.New("webhook: customer email is required")
	ErrMalformedEvent       = errors.New("webhook: malformed event body")
)

// WebhookEvent is the provider's envelope. Data is kept raw because the
// signature covers its exact bytes.
type WebhookEvent struct {
	Event     string          `json:"event"`
	Timestamp json.RawMessage `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// OrderData is the data member of paid and refund events.
type OrderData struct {
	ID           string       `json:"id"`
	ProductID    string       `json:"productId"`
	Amount       json.Number  `json:"amount"`
	Currency     string       `json:"currency"`
	CouponCode   string       `json:"couponCode"`
	Discount     json.Number  `json:"discount"`
	CustomerData CustomerData `json:"customerData"`
}

// CustomerData identifies the buyer.
type CustomerData struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// WebhookResult is echoed back to the provider.
type WebhookResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	PurchaseID string `json:"purchase_id,omitempty"`
}

// DripEnroller is the part of the drip engine a purchase triggers. *DripEngine satisfies it.
type DripEnroller interface {
	Subscribe(ctx context.Context, userID, courseID string) (dripDomain.Subscription, error)
	CheckAndConvert(ctx context.Context, userID, purchasedCourseID string) (int, error)
}

// WebhookDeps holds dependencies for the webhook service.
type WebhookDeps struct {
	Secret     string
	Accounts   accountStore.Store
	Courses    courseStore.Store
	Purchases  purchaseStore.Store
	Drip       DripEnroller
	GenerateID func() string
	Now        func() time.Time
}

// WebhookService turns payment provider events into purchases. Every handled
// outcome, including unknown courses and orders, is reported as success so the
// provider does not redeliver.
type WebhookService struct {
	deps WebhookDeps
}

// NewWebhookService creates a webhook service.
func NewWebhookService(deps WebhookDeps) *WebhookService {
	return &WebhookService{deps: deps}
}

// VerifySignature checks the hex HMAC-SHA256 of the body's data member.
// Both the bytes as received and their PHP json_encode form are accepted.
// POST: false on a missing secret, signature or data member, or on mismatch
func (s *WebhookService) VerifySignature(body []byte, signature string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if s.deps.Secret == "" || signature == "" {
		return false
	}
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil || len(event.Data) == 0 {
		return false
	}

	var compact bytes.Buffer
	candidates := [][]byte{event.Data}
	if err := json.Compact(&compact, event.Data); err == nil {
		candidates = append(candidates, compact.Bytes(), phpEscape(compact.Bytes()))
	}
	for _, c := range candidates {
		if subtle.ConstantTimeCompare([]byte(Sign(s.deps.Secret, c)), []byte(signature)) == 1 {
			return true
		}
	}
	return false
}

// Sign returns the lowercase hex HMAC-SHA256 of payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// phpEscape rewrites compact JSON the way PHP's json_encode does by default:
// slashes become \/ and non-ASCII runes become \uXXXX (surrogate pairs above the BMP).
// The byte after a backslash belongs to its escape sequence and is copied as is.
func phpEscape(compact []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(compact) + len(compact)/8)
	escaped := false
	for i := 0; i < len(compact); {
		b := compact[i]
		if b < utf8.RuneSelf {
			switch {
			case escaped:
				out.WriteByte(b)
				escaped = false
			case b == '\\':
				out.WriteByte(b)
				escaped = true
			case b == '/':
				out.WriteString(`\/`)
			default:
				out.WriteByte(b)
			}
			i++
			continue
		}
		r, size := utf8.DecodeRune(compact[i:])
		if r > 0xFFFF {
			r -= 0x10000
			fmt.Fprintf(&out, `\u%04x\u%04x`, 0xD800+(r>>10), 0xDC00+(r&0x3FF))
		} else {
			fmt.Fprintf(&out, `\u%04x`, r)
		}
		i += size
	}
	return out.Bytes()
}

// Process routes an already verified event.
// PRE: VerifySignature accepted body
// POST: paid creates at most one purchase per order id; refund flips it to refunded;
// other events are ignored. A returned error is for logging only.
func (s *WebhookService) Process(ctx context.Context, body []byte) (WebhookResult, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	slog.Info("webhook_received", "event", event.Event)

	switch event.Event {
	case EventPaid, EventRefund:
		var data OrderData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return WebhookResult{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if event.Event == EventPaid {
			return s.handlePaid(ctx, data)
		}
		return s.handleRefund(ctx, data)
	default:
		slog.Warn("webhook_unknown_event", "event", event.Event)
		return WebhookResult{Success: true, Message: "Unknown event type ignored"}, nil
	}
}

func (s *WebhookService) handlePaid(ctx context.Context, data OrderData) (WebhookResult, error) {
	if data.ID == "" {
		return WebhookResult{}, ErrMissingOrderID
	}
	if _, err := s.deps.Purchases.GetByOrderID(ctx, data.ID); err == nil {
		slog.Info("webhook_duplicate_order", "portaly_order_id", data.ID)
		return WebhookResult{Success: true, Message: "Duplicate order, skipped"}, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return WebhookResult{}, err
	}
	if strings.TrimSpace(data.CustomerData.Email) == "" {
		return WebhookResult{}, ErrMissingCustomerEmail
	}

	c, err := s.deps.Courses.GetByPortalyProductID(ctx, data.ProductID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			slog.Error("webhook_course_not_found", "product_id", data.ProductID, "portaly_order_id", data.ID)
			return WebhookResult{Success: true, Message: "Course not found for productId: " + data.ProductID}, nil
		}
		return WebhookResult{}, err
	}

	buyer, _, err := ExecuteResolveMember(ctx, MemberProfile{
		Email:    data.CustomerData.Email,
		RealName: data.CustomerData.Name,
		Phone:    data.CustomerData.Phone,
	}, CreateAccountDeps{AccountStore: s.deps.Accounts, GenerateID: s.deps.GenerateID, Now: s.deps.Now})
	if err != nil {
		return WebhookResult{}, fmt.Errorf("resolve buyer: %w", err)
	}

	now := s.deps.Now()
	p := purchaseDomain.Purchase{
		ID:                s.deps.GenerateID(),
		UserID:            buyer.ID,
		CourseID:          c.ID,
		PortalyOrderID:    data.ID,
		BuyerEmail:        data.CustomerData.Email,
		Amount:            wholeUnits(data.Amount),
		Currency:          cmp.Or(data.Currency, courseDomain.DefaultCurrency),
		CouponCode:        data.CouponCode,
		DiscountAmount:    wholeUnits(data.Discount),
		Type:              purchaseDomain.TypePaid,
		Status:            purchaseDomain.StatusPaid,
		WebhookReceivedAt: now,
		CreatedAt:         now,
	}
	if err := p.Validate(); err != nil {
		return WebhookResult{}, err
	}
	if err := s.deps.Purchases.Create(ctx, p); err != nil {
		switch {
		case errors.Is(err, purchaseStore.ErrDuplicateOrder):
			slog.Info("webhook_duplicate_order", "portaly_order_id", data.ID, "stage", "insert")
			return WebhookResult{Success: true, Message: "Duplicate order, skipped"}, nil
		case errors.Is(err, purchaseStore.ErrDuplicate):
			slog.Warn("webhook_course_already_owned", "user_id", buyer.ID, "course_id", c.ID, "portaly_order_id", data.ID)
			return WebhookResult{Success: true, Message: "Course already owned"}, nil
		}
		return WebhookResult{}, err
	}
	slog.Info("webhook_purchase_created", "purchase_id", p.ID, "user_id", buyer.ID, "course_id", c.ID, "portaly_order_id", data.ID)

	s.afterPurchase(ctx, buyer.ID, c)
	return WebhookResult{Success: true, Message: "Purchase created", PurchaseID: p.ID}, nil
}

// afterPurchase runs the drip side effects of a purchase. Failures are logged;
// the purchase itself stands.
func (s *WebhookService) afterPurchase(ctx context.Context, userID string, c courseDomain.Course) {
	if s.deps.Drip == nil {
		return
	}
	if c.IsDrip() {
		_, err := s.deps.Drip.Subscribe(ctx, userID, c.ID)
		switch {
		case err == nil:
		case errors.Is(err, dripDomain.ErrAlreadySubscribed), errors.Is(err, dripDomain.ErrAlreadyUnsubscribed):
			slog.Info("webhook_drip_subscription_exists", "user_id", userID, "course_id", c.ID)
		default:
			slog.Error("webhook_drip_subscribe_failed", "user_id", userID, "course_id", c.ID, "error", err)
		}
	}
	if _, err := s.deps.Drip.CheckAndConvert(ctx, userID, c.ID); err != nil {
		slog.Error("webhook_drip_convert_failed", "user_id", userID, "course_id", c.ID, "error", err)
	}
}

func (s *WebhookService) handleRefund(ctx context.Context, data OrderData) (WebhookResult, error) {
	if data.ID == "" {
		slog.Error("webhook_refund_missing_order_id")
		return WebhookResult{Success: true, Message: "Order not found for refund"}, nil
	}
	p, err := s.deps.Purchases.GetByOrderID(ctx, data.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			slog.Warn("webhook_refund_unknown_order", "portaly_order_id", data.ID)
			return WebhookResult{Success: true, Message: "Order not found for refund"}, nil
		}
		return WebhookResult{}, err
	}
	if err := p.Refund(); err != nil {
		slog.Info("webhook_refund_repeated", "portaly_order_id", data.ID)
		return WebhookResult{Success: true, Message: "Refund processed"}, nil
	}
	if err := s.deps.Purchases.UpdateStatus(ctx, p.ID, p.Status); err != nil {
		return WebhookResult{}, err
	}
	slog.Info("webhook_purchase_refunded", "purchase_id", p.ID, "portaly_order_id", data.ID)
	return WebhookResult{Success: true, Message: "Refund processed"}, nil
}

// wholeUnits reads an integer or decimal amount, truncating any fraction.
func wholeUnits(n json.Number) int64 {
	if n == "" {
		return 0
	}
	if v, err := n.Int64(); err == nil {
		return v
	}
	if f, err := n.Float64(); err == nil {
		return int64(f)
	}
	return 0
}
