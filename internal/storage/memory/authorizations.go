package memory

import (
	"context"
	"sort"
	"time"

	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/harman698/OnGoPool/internal/money"
)

func isActive(st payments.State) bool {
	return st == payments.StateCreated || st == payments.StateAuthorized
}

func copyAuth(a payments.Authorization) *payments.Authorization {
	a.ExpiresAt = cloneTime(a.ExpiresAt)
	a.ResponseDeadline = cloneTime(a.ResponseDeadline)
	a.CaptureAttemptedAt = cloneTime(a.CaptureAttemptedAt)
	return &a
}

func (s *Store) CreateAuthorization(ctx context.Context, a *payments.Authorization) error {
	var err error
	s.write(ctx, func() {
		if isActive(a.State) {
			for _, row := range s.auths {
				if row.auth.BookingID == a.BookingID && isActive(row.auth.State) {
					err = payments.ErrDuplicateHold
					return
				}
			}
		}
		s.seq++
		s.auths[a.ID] = authRow{auth: *copyAuth(*a), seq: s.seq}
	})
	return err
}

func (s *Store) GetAuthorization(ctx context.Context, id string) (*payments.Authorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.auths[id]
	if !ok {
		return nil, nil
	}
	return copyAuth(row.auth), nil
}

func (s *Store) GetActiveAuthorization(ctx context.Context, bookingID string) (*payments.Authorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.auths {
		if row.auth.BookingID == bookingID && isActive(row.auth.State) {
			return copyAuth(row.auth), nil
		}
	}
	return nil, nil
}

func (s *Store) GetLatestAuthorization(ctx context.Context, bookingID string) (*payments.Authorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *authRow
	for _, row := range s.auths {
		if row.auth.BookingID != bookingID {
			continue
		}
		if latest == nil || row.seq > latest.seq {
			r := row
			latest = &r
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyAuth(latest.auth), nil
}

func (s *Store) FindByProviderRef(ctx context.Context, rail payments.Rail, ref string) (*payments.Authorization, error) {
	if ref == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.auths {
		a := row.auth
		if a.Rail != rail {
			continue
		}
		if a.ProviderOrderID == ref || a.ProviderAuthorizationID == ref || a.ProviderCaptureID == ref {
			return copyAuth(a), nil
		}
	}
	return nil, nil
}

func (s *Store) TransitionAuthorization(ctx context.Context, id string, t payments.Transition) (bool, error) {
	var ok bool
	s.write(ctx, func() {
		row, found := s.auths[id]
		if !found || row.auth.State != t.From {
			return
		}
		now := s.clk.Now()
		leased := row.leaseToken != "" && row.leaseUntil.After(now)
		if t.LeaseToken != "" && row.leaseToken != t.LeaseToken {
			return
		}
		if t.LeaseToken == "" && leased {
			return
		}

		a := &row.auth
		a.State = t.To
		if t.ProviderAuthorizationID != "" {
			a.ProviderAuthorizationID = t.ProviderAuthorizationID
		}
		if t.ProviderCaptureID != "" {
			a.ProviderCaptureID = t.ProviderCaptureID
		}
		if t.ExpiresAt != nil {
			a.ExpiresAt = cloneTime(t.ExpiresAt)
		}
		if t.ResponseDeadline != nil {
			a.ResponseDeadline = cloneTime(t.ResponseDeadline)
		}
		if t.LastError != "" {
			a.LastError = t.LastError
		}
		a.UpdatedAt = now
		if t.To.IsTerminal() {
			row.leaseToken = ""
			row.leaseUntil = time.Time{}
		}
		s.auths[id] = row
		ok = true
	})
	return ok, nil
}

func (s *Store) AcquireLease(ctx context.Context, id string, state payments.State, token string, now, until time.Time) (bool, error) {
	var ok bool
	s.write(ctx, func() {
		row, found := s.auths[id]
		if !found || row.auth.State != state {
			return
		}
		if row.leaseToken != "" && row.leaseUntil.After(now) {
			return
		}
		row.leaseToken = token
		row.leaseUntil = until
		s.auths[id] = row
		ok = true
	})
	return ok, nil
}

func (s *Store) ReleaseLease(ctx context.Context, id, token, lastError string) error {
	s.write(ctx, func() {
		row, found := s.auths[id]
		if !found || row.leaseToken != token {
			return
		}
		row.leaseToken = ""
		row.leaseUntil = time.Time{}
		if lastError != "" {
			row.auth.LastError = lastError
		}
		row.auth.UpdatedAt = s.clk.Now()
		s.auths[id] = row
	})
	return nil
}

func (s *Store) MarkCaptureAttempt(ctx context.Context, id, token string, at time.Time) error {
	s.write(ctx, func() {
		row, found := s.auths[id]
		if !found || row.leaseToken != token || row.auth.CaptureAttemptedAt != nil {
			return
		}
		row.auth.CaptureAttemptedAt = timePtr(at)
		row.auth.UpdatedAt = s.clk.Now()
		s.auths[id] = row
	})
	return nil
}

func (s *Store) RecordVoidFailure(ctx context.Context, id, token, lastError string, escalateAt int) (int, bool, error) {
	var attempts int
	var escalated bool
	s.write(ctx, func() {
		row, found := s.auths[id]
		if !found || row.leaseToken != token {
			return
		}
		row.auth.VoidAttempts++
		row.auth.LastError = lastError
		if escalateAt > 0 && row.auth.VoidAttempts >= escalateAt {
			row.auth.Escalated = true
		}
		row.auth.UpdatedAt = s.clk.Now()
		row.leaseToken = ""
		row.leaseUntil = time.Time{}
		s.auths[id] = row
		attempts, escalated = row.auth.VoidAttempts, row.auth.Escalated
	})
	return attempts, escalated, nil
}

func (s *Store) RecordRefund(ctx context.Context, id, refundID string, amount money.Amount) (bool, error) {
	var created bool
	var err error
	s.write(ctx, func() {
		row, found := s.auths[id]
		if !found {
			err = payments.ErrAuthorizationNotFound
			return
		}
		key := string(row.auth.Rail) + ":" + refundID
		if _, dup := s.refunds[key]; dup {
			return
		}
		if row.auth.RefundedAmount+amount > row.auth.Amount {
			err = payments.ErrAmountExceedsAuthorization
			return
		}
		s.refunds[key] = amount
		row.auth.RefundedAmount += amount
		row.auth.UpdatedAt = s.clk.Now()
		s.auths[id] = row
		created = true
	})
	return created, err
}

func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]*payments.Authorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type due struct {
		auth     payments.Authorization
		deadline time.Time
	}
	var found []due
	for _, row := range s.auths {
		a := row.auth
		if a.State != payments.StateAuthorized {
			continue
		}
		b, ok := s.bookings[a.BookingID]
		deadline := a.ResponseDeadline
		if deadline == nil && ok {
			deadline = b.ResponseDeadline
		}
		if deadline == nil || deadline.After(now) {
			continue
		}
		found = append(found, due{auth: a, deadline: *deadline})
	}
	sort.Slice(found, func(i, j int) bool {
		return found[i].deadline.Before(found[j].deadline)
	})
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	out := make([]*payments.Authorization, 0, len(found))
	for _, d := range found {
		out = append(out, copyAuth(d.auth))
	}
	return out, nil
}

func (s *Store) ListAbandoned(ctx context.Context, createdBefore time.Time, limit int) ([]*payments.Authorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*payments.Authorization
	for _, row := range s.auths {
		if row.auth.State == payments.StateCreated && !row.auth.CreatedAt.After(createdBefore) {
			out = append(out, copyAuth(row.auth))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) RecordWebhookEvent(ctx context.Context, ev *payments.WebhookEvent) (bool, error) {
	var created bool
	s.write(ctx, func() {
		key := string(ev.Rail) + ":" + ev.EventID
		if _, dup := s.webhooks[key]; dup {
			return
		}
		s.webhooks[key] = webhookRow{event: *ev}
		created = true
	})
	return created, nil
}

func (s *Store) MarkWebhookProcessed(ctx context.Context, rail payments.Rail, eventID, processErr string) error {
	s.write(ctx, func() {
		key := string(rail) + ":" + eventID
		row, ok := s.webhooks[key]
		if !ok {
			return
		}
		row.processedAt = timePtr(s.clk.Now())
		row.processError = processErr
		s.webhooks[key] = row
	})
	return nil
}

func (s *Store) DeleteProcessedWebhooks(ctx context.Context, processedBefore time.Time, limit int) ([]*payments.WebhookEvent, error) {
	var out []*payments.WebhookEvent
	s.write(ctx, func() {
		keys := make([]string, 0, len(s.webhooks))
		for key, row := range s.webhooks {
			if row.processedAt != nil && row.processedAt.Before(processedBefore) {
				keys = append(keys, key)
			}
		}
		sort.Slice(keys, func(i, j int) bool {
			return s.webhooks[keys[i]].processedAt.Before(*s.webhooks[keys[j]].processedAt)
		})
		if limit > 0 && len(keys) > limit {
			keys = keys[:limit]
		}
		for _, key := range keys {
			ev := s.webhooks[key].event
			out = append(out, &ev)
			delete(s.webhooks, key)
		}
	})
	return out, nil
}

// WebhookProcessError reports the stored processing error of a delivery.
func (s *Store) WebhookProcessError(rail payments.Rail, eventID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.webhooks[string(rail)+":"+eventID]
	if !ok || row.processedAt == nil {
		return "", false
	}
	return row.processError, true
}
