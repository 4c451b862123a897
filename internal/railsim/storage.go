package railsim

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/harman698/OnGoPool/internal/money"
	"github.com/harman698/OnGoPool/internal/rails/wallet"
)

// simError is rendered as the wallet API error envelope.
type simError struct {
	status int
	issue  string
	msg    string
}

func (e *simError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.status, e.issue, e.msg)
}

func unprocessable(issue, msg string) *simError {
	return &simError{status: http.StatusUnprocessableEntity, issue: issue, msg: msg}
}

func notFound(kind, id string) *simError {
	return &simError{status: http.StatusNotFound, issue: wallet.IssueResourceNotFound, msg: fmt.Sprintf("%s %s not found", kind, id)}
}

type authorizationRecord struct {
	wallet.Authorization
	orderID  string
	amount   money.Amount
	currency string
}

type captureRecord struct {
	wallet.Capture
	authorizationID string
	orderID         string
	amount          money.Amount
	refunded        money.Amount
}

// Storage holds in-memory state for all simulated entities
type Storage struct {
	mu             sync.RWMutex
	seq            int
	orders         map[string]*wallet.Order
	authorizations map[string]*authorizationRecord
	captures       map[string]*captureRecord
	refunds        map[string]*wallet.Refund
	tokens         map[string]time.Time
}

func NewStorage() *Storage {
	return &Storage{
		orders:         make(map[string]*wallet.Order),
		authorizations: make(map[string]*authorizationRecord),
		captures:       make(map[string]*captureRecord),
		refunds:        make(map[string]*wallet.Refund),
		tokens:         make(map[string]time.Time),
	}
}

func (s *Storage) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%06d", prefix, s.seq)
}

func (s *Storage) IssueToken(expiresAt time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := s.nextID("A21AA")
	s.tokens[token] = expiresAt
	return token
}

func (s *Storage) TokenValid(token string, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.tokens[token]
	return ok && now.Before(exp)
}

func (s *Storage) CreateOrder(req wallet.CreateOrderRequest, approveBase string) (*wallet.Order, *simError) {
	if req.Intent != "AUTHORIZE" && req.Intent != "CAPTURE" {
		return nil, &simError{status: http.StatusBadRequest, issue: "INVALID_PARAMETER_VALUE", msg: "intent must be AUTHORIZE or CAPTURE"}
	}
	if len(req.PurchaseUnits) != 1 || req.PurchaseUnits[0].Amount == nil {
		return nil, &simError{status: http.StatusBadRequest, issue: "MISSING_REQUIRED_PARAMETER", msg: "exactly one purchase unit with an amount is required"}
	}
	amount, err := money.Parse(req.PurchaseUnits[0].Amount.Value)
	if err != nil || !amount.IsPositive() {
		return nil, &simError{status: http.StatusBadRequest, issue: "CANNOT_BE_ZERO_OR_NEGATIVE", msg: "amount must be positive"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID("ORDER")
	order := &wallet.Order{
		ID:     id,
		Intent: req.Intent,
		Status: wallet.StatusCreated,
		PurchaseUnits: []wallet.PurchaseUnit{{
			ReferenceID: "default",
			Amount:      &wallet.Money{CurrencyCode: req.PurchaseUnits[0].Amount.CurrencyCode, Value: amount.String()},
		}},
		Links: []wallet.Link{
			{Href: approveBase + "/checkoutnow?token=" + id, Rel: "approve", Method: "GET"},
		},
	}
	s.orders[id] = order
	return copyOrder(order), nil
}

func (s *Storage) GetOrder(id string) (*wallet.Order, *simError) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, notFound("order", id)
	}
	return copyOrder(order), nil
}

// Approve stands in for the payer approving the order in the wallet UI.
func (s *Storage) Approve(id string) *simError {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return notFound("order", id)
	}
	if order.Status != wallet.StatusCreated && order.Status != wallet.StatusApproved {
		return unprocessable("ORDER_CANNOT_BE_APPROVED", "order is "+order.Status)
	}
	order.Status = wallet.StatusApproved
	return nil
}

func (s *Storage) AuthorizeOrder(id string, expiresAt time.Time) (*wallet.Order, *simError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, notFound("order", id)
	}
	switch order.Status {
	case wallet.StatusApproved:
	case wallet.StatusCompleted:
		return nil, unprocessable(wallet.IssueOrderAlreadyAuthorized, "order already authorized")
	default:
		return nil, unprocessable(wallet.IssueOrderNotApproved, "payer has not approved the order")
	}

	pu := &order.PurchaseUnits[0]
	amount, _ := money.Parse(pu.Amount.Value)
	auth := &authorizationRecord{
		Authorization: wallet.Authorization{
			ID:             s.nextID("AUTH"),
			Status:         wallet.StatusCreated,
			Amount:         &wallet.Money{CurrencyCode: pu.Amount.CurrencyCode, Value: pu.Amount.Value},
			ExpirationTime: expiresAt.UTC().Format(time.RFC3339),
			SupplementaryData: &wallet.SupplementaryData{
				RelatedIDs: wallet.RelatedIDs{OrderID: id},
			},
		},
		orderID:  id,
		amount:   amount,
		currency: pu.Amount.CurrencyCode,
	}
	s.authorizations[auth.ID] = auth
	pu.Payments = &wallet.Payments{Authorizations: []wallet.Authorization{auth.Authorization}}
	order.Status = wallet.StatusCompleted
	return copyOrder(order), nil
}

func (s *Storage) GetAuthorization(id string) (*wallet.Authorization, *simError) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	auth, ok := s.authorizations[id]
	if !ok {
		return nil, notFound("authorization", id)
	}
	out := auth.Authorization
	return &out, nil
}

func (s *Storage) Capture(id string, req wallet.CaptureRequest, now time.Time) (*wallet.Capture, *simError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	auth, ok := s.authorizations[id]
	if !ok {
		return nil, notFound("authorization", id)
	}
	switch auth.Status {
	case wallet.StatusCreated:
	case wallet.StatusCaptured, wallet.StatusPartiallyCaptured:
		return nil, unprocessable(wallet.IssueAlreadyCaptured, "authorization already captured")
	case wallet.StatusVoided:
		return nil, unprocessable(wallet.IssueAuthorizationVoided, "authorization was voided")
	default:
		return nil, unprocessable(wallet.IssueAuthorizationExpired, "authorization is "+auth.Status)
	}
	if exp, err := time.Parse(time.RFC3339, auth.ExpirationTime); err == nil && !now.Before(exp) {
		auth.Status = wallet.StatusExpired
		return nil, unprocessable(wallet.IssueAuthorizationExpired, "authorization expired")
	}

	amount := auth.amount
	if req.Amount != nil {
		a, err := money.Parse(req.Amount.Value)
		if err != nil || !a.IsPositive() {
			return nil, &simError{status: http.StatusBadRequest, issue: "CANNOT_BE_ZERO_OR_NEGATIVE", msg: "amount must be positive"}
		}
		if a > auth.amount {
			return nil, unprocessable(wallet.IssueMaxCaptureExceeded, "capture exceeds authorized amount")
		}
		amount = a
	}

	capture := &captureRecord{
		Capture: wallet.Capture{
			ID:     s.nextID("CAPTURE"),
			Status: wallet.StatusCompleted,
			Amount: &wallet.Money{CurrencyCode: auth.currency, Value: amount.String()},
			SupplementaryData: &wallet.SupplementaryData{
				RelatedIDs: wallet.RelatedIDs{OrderID: auth.orderID, AuthorizationID: auth.ID},
			},
		},
		authorizationID: auth.ID,
		orderID:         auth.orderID,
		amount:          amount,
	}
	s.captures[capture.ID] = capture
	auth.Status = wallet.StatusCaptured
	if amount < auth.amount {
		auth.Status = wallet.StatusPartiallyCaptured
	}
	s.syncOrder(auth, capture)
	out := capture.Capture
	return &out, nil
}

func (s *Storage) Void(id string) *simError {
	s.mu.Lock()
	defer s.mu.Unlock()
	auth, ok := s.authorizations[id]
	if !ok {
		return notFound("authorization", id)
	}
	switch auth.Status {
	case wallet.StatusCreated:
		auth.Status = wallet.StatusVoided
		s.syncOrder(auth, nil)
		return nil
	case wallet.StatusVoided:
		return unprocessable(wallet.IssueAuthorizationVoided, "authorization already voided")
	case wallet.StatusCaptured, wallet.StatusPartiallyCaptured:
		return unprocessable(wallet.IssuePreviouslyCaptured, "authorization was captured")
	default:
		return unprocessable(wallet.IssueAuthorizationExpired, "authorization is "+auth.Status)
	}
}

func (s *Storage) GetCapture(id string) (*wallet.Capture, *simError) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	capture, ok := s.captures[id]
	if !ok {
		return nil, notFound("capture", id)
	}
	out := capture.Capture
	return &out, nil
}

func (s *Storage) Refund(captureID string, req wallet.RefundRequest, selfBase string) (*wallet.Refund, *simError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	capture, ok := s.captures[captureID]
	if !ok {
		return nil, notFound("capture", captureID)
	}
	remaining := capture.amount - capture.refunded
	amount := remaining
	if req.Amount != nil {
		a, err := money.Parse(req.Amount.Value)
		if err != nil || !a.IsPositive() {
			return nil, &simError{status: http.StatusBadRequest, issue: "CANNOT_BE_ZERO_OR_NEGATIVE", msg: "amount must be positive"}
		}
		amount = a
	}
	if amount > remaining || remaining == 0 {
		return nil, unprocessable(wallet.IssueRefundAmountExceeded, "refund exceeds captured amount")
	}

	capture.refunded += amount
	refund := &wallet.Refund{
		ID:     s.nextID("REFUND"),
		Status: wallet.StatusCompleted,
		Amount: &wallet.Money{CurrencyCode: capture.Amount.CurrencyCode, Value: amount.String()},
		Links: []wallet.Link{
			{Href: selfBase + "/v2/payments/captures/" + captureID, Rel: "up", Method: "GET"},
		},
	}
	s.refunds[refund.ID] = refund
	out := *refund
	return &out, nil
}

// CaptureCount reports how many captures exist for an authorization.
func (s *Storage) CaptureCount(authorizationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.captures {
		if c.authorizationID == authorizationID {
			n++
		}
	}
	return n
}

func (s *Storage) syncOrder(auth *authorizationRecord, capture *captureRecord) {
	order, ok := s.orders[auth.orderID]
	if !ok {
		return
	}
	pu := &order.PurchaseUnits[0]
	if pu.Payments == nil {
		pu.Payments = &wallet.Payments{}
	}
	pu.Payments.Authorizations = []wallet.Authorization{auth.Authorization}
	if capture != nil {
		pu.Payments.Captures = append(pu.Payments.Captures, capture.Capture)
	}
}

func copyOrder(o *wallet.Order) *wallet.Order {
	out := *o
	out.PurchaseUnits = make([]wallet.PurchaseUnit, len(o.PurchaseUnits))
	for i, pu := range o.PurchaseUnits {
		out.PurchaseUnits[i] = pu
		if pu.Payments != nil {
			p := wallet.Payments{
				Authorizations: append([]wallet.Authorization(nil), pu.Payments.Authorizations...),
				Captures:       append([]wallet.Capture(nil), pu.Payments.Captures...),
			}
			out.PurchaseUnits[i].Payments = &p
		}
	}
	out.Links = append([]wallet.Link(nil), o.Links...)
	return &out
}
