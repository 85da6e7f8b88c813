// Package testutil provides in-memory stand-ins for the repositories, the
// ledger and the queue. They keep the same guard semantics as the SQL
// implementations (CAS claims, unique pairs, conditional balance updates) so
// concurrency behavior can be exercised without a database.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
	"github.com/unclebandit/smsleopard-dispatch/internal/ledger"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
	"github.com/unclebandit/smsleopard-dispatch/internal/queue"
	"github.com/unclebandit/smsleopard-dispatch/internal/repository"
)

type Campaigns struct {
	mu     sync.Mutex
	nextID int
	rows   map[int]*model.Campaign
}

func NewCampaigns() *Campaigns {
	return &Campaigns{rows: map[int]*model.Campaign{}}
}

// Add seeds a campaign directly, bypassing Create defaults.
func (m *Campaigns) Add(c *model.Campaign) *model.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c.ID = m.nextID
	cp := *c
	m.rows[c.ID] = &cp
	return c
}

func (m *Campaigns) Create(ctx context.Context, c *model.Campaign) error {
	if c.State == "" {
		c.State = model.CampaignDraft
	}
	c.CreatedAt = time.Now()
	m.Add(c)
	return nil
}

func (m *Campaigns) UpdateDraft(ctx context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[c.ID]
	if !ok || cur.TenantID != c.TenantID || cur.State != model.CampaignDraft {
		return appErrors.NewInvalidTransition(c.ID, "non-draft", "draft-edit")
	}
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}

func (m *Campaigns) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *Campaigns) GetByTenant(ctx context.Context, tenantID, id int) (*model.Campaign, error) {
	c, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.TenantID != tenantID {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, nil
}

func (m *Campaigns) List(ctx context.Context, tenantID, offset, limit int, state string) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := []*model.Campaign{}
	for id := m.nextID; id >= 1; id-- {
		c, ok := m.rows[id]
		if !ok || c.TenantID != tenantID {
			continue
		}
		if state != "" && c.State != state {
			continue
		}
		cp := *c
		matched = append(matched, &cp)
	}
	total := len(matched)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *Campaigns) Due(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := []*model.Campaign{}
	for id := 1; id <= m.nextID && len(due) < limit; id++ {
		c, ok := m.rows[id]
		if !ok {
			continue
		}
		scheduled := c.State == model.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now)
		if scheduled || c.State == model.CampaignSending {
			cp := *c
			due = append(due, &cp)
		}
	}
	return due, nil
}

func (m *Campaigns) TransitionState(ctx context.Context, id int, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok || c.State != from {
		return false, nil
	}
	c.State = to
	now := time.Now()
	c.UpdatedAt = &now
	return true, nil
}

func (m *Campaigns) SetScheduledAt(ctx context.Context, id int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.rows[id]; ok {
		c.ScheduledAt = &at
	}
	return nil
}

func (m *Campaigns) SetExcludedCount(ctx context.Context, id, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.rows[id]; ok {
		c.ExcludedCount = n
	}
	return nil
}

func (m *Campaigns) AddCounts(ctx context.Context, id, sent, delivered, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.rows[id]; ok {
		c.SentCount += sent
		c.DeliveredCount += delivered
		c.FailedCount += failed
	}
	return nil
}

type Recipients struct {
	mu     sync.Mutex
	nextID int
	rows   map[int]*model.Recipient
}

func NewRecipients() *Recipients {
	return &Recipients{rows: map[int]*model.Recipient{}}
}

func (m *Recipients) Add(rec *model.Recipient) *model.Recipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	if rec.Status == "" {
		rec.Status = model.RecipientPending
	}
	cp := *rec
	m.rows[rec.ID] = &cp
	return rec
}

func (m *Recipients) BulkInsert(ctx context.Context, recipients []*model.Recipient) (int, error) {
	inserted := 0
	for _, rec := range recipients {
		if m.hasPair(rec.CampaignID, rec.ContactID) {
			continue
		}
		m.Add(rec)
		inserted++
	}
	return inserted, nil
}

func (m *Recipients) hasPair(campaignID, contactID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.CampaignID == campaignID && r.ContactID == contactID {
			return true
		}
	}
	return false
}

func (m *Recipients) GetByID(ctx context.Context, id int) (*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *Recipients) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ProviderMessageID != nil && *r.ProviderMessageID == providerMessageID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Recipients) PendingIDs(ctx context.Context, campaignID, limit int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []int{}
	for id := 1; id <= m.nextID && len(ids) < limit; id++ {
		r, ok := m.rows[id]
		if ok && r.CampaignID == campaignID && r.Status == model.RecipientPending {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *Recipients) HasAny(ctx context.Context, campaignID int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.CampaignID == campaignID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Recipients) Claim(ctx context.Context, id int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.Status != model.RecipientPending {
		return false, nil
	}
	r.Status = model.RecipientReserved
	r.StatusAt = time.Now()
	return true, nil
}

func (m *Recipients) Release(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok && r.Status == model.RecipientReserved {
		r.Status = model.RecipientPending
		r.ReservationID = nil
	}
	return nil
}

func (m *Recipients) SetReservation(ctx context.Context, id, reservationID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		rid := reservationID
		r.ReservationID = &rid
	}
	return nil
}

func (m *Recipients) MarkSent(ctx context.Context, id int, providerMessageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		r.Status = model.RecipientSent
		pid := providerMessageID
		r.ProviderMessageID = &pid
		r.StatusAt = time.Now()
	}
	return nil
}

func (m *Recipients) MarkFailed(ctx context.Context, id int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		r.Status = model.RecipientFailed
		r.LastError = lastError
		r.StatusAt = time.Now()
	}
	return nil
}

func (m *Recipients) SetStatus(ctx context.Context, id int, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		r.Status = status
		r.StatusAt = time.Now()
	}
	return nil
}

func (m *Recipients) IncrementRetry(ctx context.Context, id int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		r.RetryCount++
		r.LastError = lastError
	}
	return nil
}

func (m *Recipients) StaleReserved(ctx context.Context, cutoff time.Time) ([]*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stale := []*model.Recipient{}
	for id := 1; id <= m.nextID; id++ {
		r, ok := m.rows[id]
		if ok && r.Status == model.RecipientReserved && r.StatusAt.Before(cutoff) {
			cp := *r
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

func (m *Recipients) CountNonTerminal(ctx context.Context, campaignID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.rows {
		if r.CampaignID == campaignID && !model.RecipientTerminal(r.Status) {
			n++
		}
	}
	return n, nil
}

// ByCampaign returns copies of a campaign's recipients in id order.
func (m *Recipients) ByCampaign(campaignID int) []*model.Recipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Recipient{}
	for id := 1; id <= m.nextID; id++ {
		if r, ok := m.rows[id]; ok && r.CampaignID == campaignID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}

func (m *Recipients) StatusCounts(ctx context.Context, campaignID int) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	for _, r := range m.rows {
		if r.CampaignID == campaignID {
			counts[r.Status]++
		}
	}
	return counts, nil
}

type Tenants struct {
	mu   sync.Mutex
	rows map[int]*model.Tenant
}

func NewTenants(tenants ...*model.Tenant) *Tenants {
	m := &Tenants{rows: map[int]*model.Tenant{}}
	for _, t := range tenants {
		cp := *t
		m.rows[t.ID] = &cp
	}
	return m
}

func (m *Tenants) GetByID(ctx context.Context, id int) (*model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *Tenants) GetBySenderNumber(ctx context.Context, number string) (*model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.rows {
		if t.SenderNumber == number {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

type Contacts struct {
	Rows []model.Contact
}

func (m *Contacts) ListForAudience(ctx context.Context, tenantID int, kind, arg string) ([]model.Contact, error) {
	out := []model.Contact{}
	for _, c := range m.Rows {
		if c.TenantID != tenantID {
			continue
		}
		switch kind {
		case model.AudienceAll:
		case model.AudienceGender:
			if c.Gender != arg {
				continue
			}
		case model.AudienceTag:
			found := false
			for _, t := range c.Tags {
				if t == arg {
					found = true
				}
			}
			if !found {
				continue
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *Contacts) GetByPhone(ctx context.Context, tenantID int, phone string) (*model.Contact, error) {
	for _, c := range m.Rows {
		if c.TenantID == tenantID && c.Phone == phone {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

// Receipts rejects duplicate event ids the way the unique index does.
type Receipts struct {
	mu       sync.Mutex
	Stored   []*model.DeliveryReceipt
	Inbounds []*model.InboundMessage
	seen     map[string]bool
}

func NewReceipts() *Receipts {
	return &Receipts{seen: map[string]bool{}}
}

func (m *Receipts) InsertReceipt(ctx context.Context, rec *model.DeliveryReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[rec.EventID] {
		return appErrors.NewDuplicateEvent(rec.EventID)
	}
	m.seen[rec.EventID] = true
	m.Stored = append(m.Stored, rec)
	return nil
}

func (m *Receipts) InsertInbound(ctx context.Context, msg *model.InboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[msg.EventID] {
		return appErrors.NewDuplicateEvent(msg.EventID)
	}
	m.seen[msg.EventID] = true
	m.Inbounds = append(m.Inbounds, msg)
	return nil
}

type ledgerEntry struct {
	TenantID  int
	Amount    int64
	Kind      string
	Status    string
	Reference string
	CreatedAt time.Time
}

// Ledger mirrors the conditional-decrement semantics of the SQL ledger under
// a single mutex.
type Ledger struct {
	mu       sync.Mutex
	nextID   int
	balances map[int]int64
	entries  map[int]*ledgerEntry
}

func NewLedger() *Ledger {
	return &Ledger{balances: map[int]int64{}, entries: map[int]*ledgerEntry{}}
}

func (l *Ledger) SetBalance(tenantID int, balance int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[tenantID] = balance
}

func (l *Ledger) Reserve(ctx context.Context, tenantID int, amount int64, reference string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[tenantID] < amount {
		return 0, appErrors.NewInsufficientCredits(tenantID, amount, l.balances[tenantID])
	}
	l.balances[tenantID] -= amount
	l.nextID++
	l.entries[l.nextID] = &ledgerEntry{
		TenantID: tenantID, Amount: -amount, Kind: model.LedgerReserve,
		Status: model.ReservationOpen, Reference: reference, CreatedAt: time.Now(),
	}
	return l.nextID, nil
}

func (l *Ledger) settle(reservationID int) (*ledgerEntry, bool) {
	e, ok := l.entries[reservationID]
	if !ok || e.Kind != model.LedgerReserve || e.Status != model.ReservationOpen {
		return nil, false
	}
	e.Status = model.ReservationSettled
	return e, true
}

func (l *Ledger) Commit(ctx context.Context, reservationID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.settle(reservationID)
	if !ok {
		return nil
	}
	l.nextID++
	l.entries[l.nextID] = &ledgerEntry{
		TenantID: e.TenantID, Amount: 0, Kind: model.LedgerCommit,
		Reference: fmt.Sprintf("reservation:%d", reservationID), CreatedAt: time.Now(),
	}
	return nil
}

func (l *Ledger) Refund(ctx context.Context, reservationID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.settle(reservationID)
	if !ok {
		return nil
	}
	refund := -e.Amount
	l.balances[e.TenantID] += refund
	l.nextID++
	l.entries[l.nextID] = &ledgerEntry{
		TenantID: e.TenantID, Amount: refund, Kind: model.LedgerRefund,
		Reference: fmt.Sprintf("reservation:%d", reservationID), CreatedAt: time.Now(),
	}
	return nil
}

func (l *Ledger) Purchase(ctx context.Context, tenantID int, amount int64, reference string) (int, error) {
	if amount <= 0 {
		return 0, appErrors.NewValidation("amount", "must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[tenantID] += amount
	l.nextID++
	l.entries[l.nextID] = &ledgerEntry{
		TenantID: tenantID, Amount: amount, Kind: model.LedgerPurchase,
		Reference: reference, CreatedAt: time.Now(),
	}
	return l.nextID, nil
}

func (l *Ledger) Balance(ctx context.Context, tenantID int) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[tenantID], nil
}

func (l *Ledger) SweepExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	l.mu.Lock()
	open := []int{}
	for id, e := range l.entries {
		if e.Kind == model.LedgerReserve && e.Status == model.ReservationOpen && e.CreatedAt.Before(cutoff) {
			open = append(open, id)
		}
	}
	l.mu.Unlock()

	for _, id := range open {
		if err := l.Refund(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(open), nil
}

// KindCounts tallies ledger entries per kind, for conservation assertions.
func (l *Ledger) KindCounts() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := map[string]int{}
	for _, e := range l.entries {
		counts[e.Kind]++
	}
	return counts
}

// OpenReservations returns how many reserve rows are still unsettled.
func (l *Ledger) OpenReservations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.Kind == model.LedgerReserve && e.Status == model.ReservationOpen {
			n++
		}
	}
	return n
}

// RecordingQueue captures published payloads without delivering them.
type RecordingQueue struct {
	mu        sync.Mutex
	Published []queue.SendJob
}

func (q *RecordingQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var job queue.SendJob
	if err := json.Unmarshal(body, &job); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Published = append(q.Published, job)
	return nil
}

func (q *RecordingQueue) Consume(topic string, prefetch int, handler func(body []byte) error) error {
	return nil
}

func (q *RecordingQueue) Close() error { return nil }

var (
	_ repository.CampaignRepositoryInterface  = (*Campaigns)(nil)
	_ repository.RecipientRepositoryInterface = (*Recipients)(nil)
	_ repository.TenantRepositoryInterface    = (*Tenants)(nil)
	_ repository.ContactRepositoryInterface   = (*Contacts)(nil)
	_ repository.ReceiptRepositoryInterface   = (*Receipts)(nil)
	_ ledger.Ledger                           = (*Ledger)(nil)
	_ queue.Queue                             = (*RecordingQueue)(nil)
)
