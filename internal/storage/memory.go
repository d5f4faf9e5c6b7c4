package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zenzefi/gateway/internal/audit"
	"github.com/zenzefi/gateway/internal/bundle"
	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/ledger"
	"github.com/zenzefi/gateway/internal/payments"
	"github.com/zenzefi/gateway/internal/session"
	"github.com/zenzefi/gateway/internal/token"
)

// Memory is a single in-process backend implementing every store
// interface over shared maps. It backs the test suite and lets the
// gateway start without PostgreSQL in development; one mutex stands in
// for the database's row locks.
//
// Memory itself satisfies auth.Store, ledger.Store, token.Store and
// audit.Store; the session, bundle and payment interfaces reuse method
// names, so those are exposed as views via Sessions, Bundles and
// Payments.
type Memory struct {
	mu sync.Mutex

	users        map[uuid.UUID]*core.User
	tokens       map[uuid.UUID]*token.AccessToken
	transactions []ledger.Transaction
	sessions     map[uuid.UUID]*session.ProxySession
	bundles      map[uuid.UUID]*bundle.TokenBundle
	intents      map[string]*payments.Intent
	auditLog     []audit.Entry
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[uuid.UUID]*core.User),
		tokens:   make(map[uuid.UUID]*token.AccessToken),
		sessions: make(map[uuid.UUID]*session.ProxySession),
		bundles:  make(map[uuid.UUID]*bundle.TokenBundle),
		intents:  make(map[string]*payments.Intent),
	}
}

// ---- auth.Store ----

func (m *Memory) Create(_ context.Context, u *core.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) || strings.EqualFold(existing.Username, u.Username) {
			return core.NewError(core.KindConflict, "email or username already registered")
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *Memory) ByID(_ context.Context, id uuid.UUID) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userLocked(id)
}

func (m *Memory) ByEmail(_ context.Context, email string) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, core.ErrUserNotFound
}

func (m *Memory) ByUsername(_ context.Context, username string) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, core.ErrUserNotFound
}

func (m *Memory) ByReferralCode(_ context.Context, code string) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ReferralCode == code {
			cp := *u
			return &cp, nil
		}
	}
	return nil, core.ErrUserNotFound
}

func (m *Memory) userLocked(id uuid.UUID) (*core.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// ---- ledger.Store ----

func (m *Memory) GetUser(_ context.Context, id uuid.UUID) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userLocked(id)
}

func (m *Memory) ApplyTransaction(_ context.Context, userID uuid.UUID, amount decimal.Decimal,
	txType ledger.TransactionType, description string, paymentID *string,
	now time.Time) (decimal.Decimal, error) {

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(userID, amount, txType, description, paymentID, now)
}

func (m *Memory) applyLocked(userID uuid.UUID, amount decimal.Decimal,
	txType ledger.TransactionType, description string, paymentID *string,
	now time.Time) (decimal.Decimal, error) {

	u, ok := m.users[userID]
	if !ok {
		return decimal.Zero, core.ErrUserNotFound
	}
	newBalance := u.Balance.Add(amount)
	if newBalance.IsNegative() {
		return decimal.Zero, core.ErrInsufficientBalance
	}
	u.Balance = newBalance
	u.UpdatedAt = now

	m.transactions = append(m.transactions, ledger.Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Description: description,
		PaymentID:   paymentID,
		CreatedAt:   now,
	})
	return newBalance, nil
}

func (m *Memory) Transactions(_ context.Context, userID uuid.UUID, limit, offset int,
	txType *ledger.TransactionType) ([]ledger.Transaction, int, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	var all []ledger.Transaction
	for _, t := range m.transactions {
		if t.UserID != userID {
			continue
		}
		if txType != nil && t.Type != *txType {
			continue
		}
		all = append(all, t)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *Memory) CountPurchasesOver(_ context.Context, userID uuid.UUID,
	threshold decimal.Decimal) (int, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, t := range m.transactions {
		if t.UserID == userID && t.Type == ledger.TypePurchase && t.Amount.Abs().GreaterThan(threshold) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) AddReferralEarned(_ context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return core.ErrUserNotFound
	}
	u.ReferralEarned = u.ReferralEarned.Add(amount)
	return nil
}

// ---- token.Store ----

func (m *Memory) Purchase(_ context.Context, userID uuid.UUID, price decimal.Decimal,
	durationHours int, scope token.Scope, secret string, now time.Time) (*token.AccessToken, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	description := fmt.Sprintf("Access token purchase: %dh, %s", durationHours, scope)
	if _, err := m.applyLocked(userID, price.Neg(), ledger.TypePurchase, description, nil, now); err != nil {
		return nil, err
	}

	tok := &token.AccessToken{
		ID:            uuid.New(),
		UserID:        userID,
		Secret:        secret,
		DurationHours: durationHours,
		Scope:         scope,
		CreatedAt:     now,
		IsActive:      true,
	}
	m.tokens[tok.ID] = tok
	cp := *tok
	return &cp, nil
}

func (m *Memory) FindUsable(_ context.Context, secret string) (*token.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.Secret == secret && t.IsActive && t.RevokedAt == nil {
			cp := *t
			return &cp, nil
		}
	}
	return nil, core.ErrTokenNotFound
}

func (m *Memory) Activate(_ context.Context, tokenID uuid.UUID, now time.Time) (*token.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenID]
	if !ok {
		return nil, core.ErrTokenNotFound
	}
	if t.ActivatedAt == nil && t.IsActive && t.RevokedAt == nil {
		at := now
		t.ActivatedAt = &at
	}
	if !t.Usable(now) {
		return nil, core.ErrInvalidToken
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) Revoke(_ context.Context, tokenID, userID uuid.UUID, now time.Time) (*token.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenID]
	if !ok || t.UserID != userID || !t.IsActive || t.RevokedAt != nil {
		return nil, core.ErrTokenNotFound
	}
	if t.ActivatedAt != nil {
		return nil, core.ErrCannotRevokeActivated
	}
	at := now
	t.RevokedAt = &at
	t.IsActive = false
	cp := *t
	return &cp, nil
}

func (m *Memory) List(_ context.Context, userID uuid.UUID, activeOnly bool,
	now time.Time) ([]token.AccessToken, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []token.AccessToken
	for _, t := range m.tokens {
		if t.UserID != userID {
			continue
		}
		if activeOnly && !t.Usable(now) {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ---- session.Store (view) ----

// Sessions returns the session.Store view.
func (m *Memory) Sessions() session.Store { return memSessions{m} }

type memSessions struct{ m *Memory }

func (v memSessions) ActiveByToken(ctx context.Context, tokenID uuid.UUID) (*session.ProxySession, error) {
	return v.m.activeByToken(ctx, tokenID)
}
func (v memSessions) Create(_ context.Context, sess *session.ProxySession) error {
	return v.m.createSession(sess)
}
func (v memSessions) Touch(ctx context.Context, sessionID uuid.UUID, ip, userAgent string, now time.Time) error {
	return v.m.touchSession(ctx, sessionID, ip, userAgent, now)
}
func (v memSessions) AddBytes(ctx context.Context, sessionID uuid.UUID, n int64) error {
	return v.m.addSessionBytes(ctx, sessionID, n)
}
func (v memSessions) Close(ctx context.Context, sessionID uuid.UUID, now time.Time) error {
	return v.m.closeSession(ctx, sessionID, now)
}
func (v memSessions) CloseIdle(ctx context.Context, cutoff, now time.Time) (int, error) {
	return v.m.closeIdleSessions(ctx, cutoff, now)
}
func (v memSessions) ActiveForUser(ctx context.Context, userID uuid.UUID) ([]session.ProxySession, error) {
	return v.m.activeSessionsForUser(ctx, userID)
}

func (m *Memory) activeByToken(_ context.Context, tokenID uuid.UUID) (*session.ProxySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.sessions {
		if sess.TokenID == tokenID && sess.IsActive {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, session.ErrSessionNotFound
}

func (m *Memory) createSession(sess *session.ProxySession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.TokenID == sess.TokenID && existing.IsActive {
			return session.ErrSessionExists
		}
	}
	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *Memory) touchSession(_ context.Context, sessionID uuid.UUID, ip, userAgent string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok || !sess.IsActive {
		return session.ErrSessionNotFound
	}
	sess.LastActivity = now
	sess.RequestCount++
	sess.IPAddress = ip
	if userAgent != "" {
		sess.UserAgent = userAgent
	}
	return nil
}

func (m *Memory) addSessionBytes(_ context.Context, sessionID uuid.UUID, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return session.ErrSessionNotFound
	}
	sess.BytesTransferred += n
	return nil
}

func (m *Memory) closeSession(_ context.Context, sessionID uuid.UUID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok || !sess.IsActive {
		return nil
	}
	sess.IsActive = false
	at := now
	sess.EndedAt = &at
	return nil
}

func (m *Memory) closeIdleSessions(_ context.Context, cutoff, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sess := range m.sessions {
		if sess.IsActive && !sess.LastActivity.After(cutoff) {
			sess.IsActive = false
			at := now
			sess.EndedAt = &at
			n++
		}
	}
	return n, nil
}

func (m *Memory) activeSessionsForUser(_ context.Context, userID uuid.UUID) ([]session.ProxySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []session.ProxySession
	for _, sess := range m.sessions {
		if sess.UserID == userID && sess.IsActive {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// ---- bundle.Store (view) ----

// Bundles returns the bundle.Store view.
func (m *Memory) Bundles() bundle.Store { return memBundles{m} }

type memBundles struct{ m *Memory }

func (v memBundles) List(ctx context.Context, activeOnly bool) ([]bundle.TokenBundle, error) {
	return v.m.listBundles(ctx, activeOnly)
}
func (v memBundles) Get(ctx context.Context, id uuid.UUID) (*bundle.TokenBundle, error) {
	return v.m.getBundle(ctx, id)
}
func (v memBundles) Purchase(ctx context.Context, b *bundle.TokenBundle, userID uuid.UUID,
	secrets []string, now time.Time) ([]token.AccessToken, decimal.Decimal, error) {
	return v.m.purchaseBundle(ctx, b, userID, secrets, now)
}
func (v memBundles) Create(ctx context.Context, b *bundle.TokenBundle) error {
	return v.m.createBundle(ctx, b)
}
func (v memBundles) Update(ctx context.Context, id uuid.UUID, upd bundle.Update) (*bundle.TokenBundle, error) {
	return v.m.updateBundle(ctx, id, upd)
}
func (v memBundles) Deactivate(ctx context.Context, id uuid.UUID) error {
	return v.m.deactivateBundle(ctx, id)
}

func (m *Memory) listBundles(_ context.Context, activeOnly bool) ([]bundle.TokenBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []bundle.TokenBundle
	for _, b := range m.bundles {
		if activeOnly && !b.IsActive {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalPrice.LessThan(out[j].TotalPrice) })
	return out, nil
}

func (m *Memory) getBundle(_ context.Context, id uuid.UUID) (*bundle.TokenBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bundles[id]
	if !ok || !b.IsActive {
		return nil, core.ErrBundleNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) purchaseBundle(_ context.Context, b *bundle.TokenBundle, userID uuid.UUID,
	secrets []string, now time.Time) ([]token.AccessToken, decimal.Decimal, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	description := fmt.Sprintf("Bundle purchase: %s (%d tokens x %dh)", b.Name, b.TokenCount, b.DurationHours)
	newBalance, err := m.applyLocked(userID, b.TotalPrice.Neg(), ledger.TypePurchase, description, nil, now)
	if err != nil {
		return nil, decimal.Zero, err
	}

	tokens := make([]token.AccessToken, 0, len(secrets))
	for _, secret := range secrets {
		tok := &token.AccessToken{
			ID:            uuid.New(),
			UserID:        userID,
			Secret:        secret,
			DurationHours: b.DurationHours,
			Scope:         b.Scope,
			CreatedAt:     now,
			IsActive:      true,
		}
		m.tokens[tok.ID] = tok
		tokens = append(tokens, *tok)
	}
	return tokens, newBalance, nil
}

func (m *Memory) createBundle(_ context.Context, b *bundle.TokenBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bundles[b.ID] = &cp
	return nil
}

func (m *Memory) updateBundle(_ context.Context, id uuid.UUID, upd bundle.Update) (*bundle.TokenBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bundles[id]
	if !ok {
		return nil, core.ErrBundleNotFound
	}
	if upd.Name != nil {
		b.Name = *upd.Name
	}
	if upd.Description != nil {
		b.Description = *upd.Description
	}
	if upd.TokenCount != nil {
		b.TokenCount = *upd.TokenCount
	}
	if upd.DurationHours != nil {
		b.DurationHours = *upd.DurationHours
	}
	if upd.Scope != nil {
		b.Scope = *upd.Scope
	}
	if upd.DiscountPercent != nil {
		b.DiscountPercent = *upd.DiscountPercent
	}
	if upd.BasePrice != nil {
		b.BasePrice = *upd.BasePrice
	}
	if upd.TotalPrice != nil {
		b.TotalPrice = *upd.TotalPrice
	}
	if upd.IsActive != nil {
		b.IsActive = *upd.IsActive
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) deactivateBundle(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bundles[id]
	if !ok {
		return core.ErrBundleNotFound
	}
	b.IsActive = false
	return nil
}

// ---- payments.Store (view) ----

// Payments returns the payments.Store view.
func (m *Memory) Payments() payments.Store { return memPayments{m} }

type memPayments struct{ m *Memory }

func (v memPayments) Create(ctx context.Context, in *payments.Intent) error {
	return v.m.createIntent(ctx, in)
}
func (v memPayments) ByExternalID(ctx context.Context, externalID string) (*payments.Intent, error) {
	return v.m.intentByExternalID(ctx, externalID)
}
func (v memPayments) Transition(ctx context.Context, externalID string,
	to payments.IntentStatus, now time.Time) (bool, error) {
	return v.m.transitionIntent(ctx, externalID, to, now)
}

func (m *Memory) createIntent(_ context.Context, in *payments.Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *in
	m.intents[in.ExternalID] = &cp
	return nil
}

func (m *Memory) intentByExternalID(_ context.Context, externalID string) (*payments.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intents[externalID]
	if !ok {
		return nil, core.NewError(core.KindNotFound, "payment not found")
	}
	cp := *in
	return &cp, nil
}

func (m *Memory) transitionIntent(_ context.Context, externalID string,
	to payments.IntentStatus, now time.Time) (bool, error) {

	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intents[externalID]
	if !ok || in.Status != payments.StatusPending {
		return false, nil
	}
	in.Status = to
	in.UpdatedAt = now
	return true, nil
}

// ---- audit.Store ----

func (m *Memory) Append(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditLog = append(m.auditLog, *e)
	return nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audit.Entry, len(m.auditLog))
	copy(out, m.auditLog)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
