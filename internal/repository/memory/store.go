// Package memory is a process-local implementation of every repository,
// used for local runs (STORAGE=memory) and tests. Conditional updates hold
// the store mutex, so they give the same compare-and-swap guarantee as the
// Postgres WHERE-guarded updates.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/supportpay/internal/models"
	repo "github.com/baharkarakas/supportpay/internal/repository"
)

type pairKey struct{ supporter, creator string }

type Store struct {
	mu sync.Mutex
	// now is the clock used for row timestamps.
	now func() time.Time

	txns         map[string]models.Transaction
	txnByRef     map[string]string
	memberships  map[pairKey]models.Membership
	subs         map[string]models.Subscription
	earnings     map[string]models.Earnings
	jobs         map[string]models.EmailJob
	jobOrder     []string
	channels     map[string][]models.Channel
	suppressions map[pairKey]string
	users        map[string]models.User
	audit        []models.AuditLog

	writes int
}

func New() *Store {
	return &Store{
		now:          time.Now,
		txns:         map[string]models.Transaction{},
		txnByRef:     map[string]string{},
		memberships:  map[pairKey]models.Membership{},
		subs:         map[string]models.Subscription{},
		earnings:     map[string]models.Earnings{},
		jobs:         map[string]models.EmailJob{},
		channels:     map[string][]models.Channel{},
		suppressions: map[pairKey]string{},
		users:        map[string]models.User{},
	}
}

// SetClock replaces the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Repositories() repo.Repositories {
	return repo.Repositories{
		Transactions:  (*txnStore)(s),
		Memberships:   (*membershipStore)(s),
		Subscriptions: (*subscriptionStore)(s),
		Earnings:      (*earningsStore)(s),
		EmailJobs:     (*jobStore)(s),
		Channels:      (*channelStore)(s),
		Suppressions:  (*suppressionStore)(s),
		Users:         (*userStore)(s),
		AuditLogs:     (*auditStore)(s),
	}
}

// Writes counts every mutation of financial or queue state.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) AddUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) AddChannel(c models.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[c.CreatorID] = append(s.channels[c.CreatorID], c)
}

func (s *Store) EarningsCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.earnings)
}

func (s *Store) Jobs() []models.EmailJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.EmailJob, 0, len(s.jobOrder))
	for _, id := range s.jobOrder {
		out = append(out, s.jobs[id])
	}
	return out
}

func (s *Store) AuditTrail() []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditLog(nil), s.audit...)
}

// ---------- transactions ----------

type txnStore Store

func refKey(gateway, ref string) string { return gateway + "\x00" + ref }

func (t *txnStore) Create(_ context.Context, tx models.Transaction) (models.Transaction, error) {
	s := (*Store)(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txnByRef[refKey(tx.Gateway, tx.GatewayRef)]; ok {
		return models.Transaction{}, repo.ErrDuplicate
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if _, ok := s.txns[tx.ID]; ok {
		return models.Transaction{}, repo.ErrDuplicate
	}
	tx.CreatedAt = s.now()
	s.txns[tx.ID] = tx
	s.txnByRef[refKey(tx.Gateway, tx.GatewayRef)] = tx.ID
	s.writes++
	return tx, nil
}

func (t *txnStore) GetByID(_ context.Context, id string) (models.Transaction, error) {
	s := (*Store)(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txns[id]
	if !ok {
		return models.Transaction{}, repo.ErrNotFound
	}
	return tx, nil
}

func (t *txnStore) GetByGatewayRef(ctx context.Context, gateway, ref string) (models.Transaction, error) {
	s := (*Store)(t)
	s.mu.Lock()
	id, ok := s.txnByRef[refKey(gateway, ref)]
	s.mu.Unlock()
	if !ok {
		return models.Transaction{}, repo.ErrNotFound
	}
	return t.GetByID(ctx, id)
}

func (t *txnStore) Transition(_ context.Context, id string, from, to models.TransactionStatus, patch models.TransitionPatch) (models.Transaction, error) {
	s := (*Store)(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txns[id]
	if !ok || tx.Status != from {
		return models.Transaction{}, repo.ErrConflict
	}
	tx.Status = to
	if patch.CompletedAt != nil {
		at := *patch.CompletedAt
		tx.CompletedAt = &at
	}
	if len(patch.Metadata) > 0 {
		tx.Metadata = append([]byte(nil), patch.Metadata...)
	}
	s.txns[id] = tx
	s.writes++
	return tx, nil
}

func (t *txnStore) ListStalePending(_ context.Context, createdBefore time.Time, limit int) ([]models.Transaction, error) {
	s := (*Store)(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, tx := range s.txns {
		if tx.Status == models.TxnPending && tx.CreatedAt.Before(createdBefore) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------- memberships ----------

type membershipStore Store

func (m *membershipStore) Upsert(_ context.Context, supporterID, creatorID string, tier int, amount decimal.Decimal) (models.Membership, error) {
	s := (*Store)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{supporterID, creatorID}
	now := s.now()
	mb, ok := s.memberships[k]
	if !ok {
		mb = models.Membership{SupporterID: supporterID, CreatorID: creatorID, TotalAmount: decimal.Zero, CreatedAt: now}
	}
	mb.Active = true
	mb.TierLevel = tier
	mb.TotalAmount = mb.TotalAmount.Add(amount)
	mb.UpdatedAt = now
	s.memberships[k] = mb
	s.writes++
	return mb, nil
}

func (m *membershipStore) Deactivate(_ context.Context, supporterID, creatorID string) (bool, error) {
	s := (*Store)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{supporterID, creatorID}
	mb, ok := s.memberships[k]
	if !ok || !mb.Active {
		return false, nil
	}
	mb.Active = false
	mb.UpdatedAt = s.now()
	s.memberships[k] = mb
	s.writes++
	return true, nil
}

func (m *membershipStore) Get(_ context.Context, supporterID, creatorID string) (models.Membership, error) {
	s := (*Store)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.memberships[pairKey{supporterID, creatorID}]
	if !ok {
		return models.Membership{}, repo.ErrNotFound
	}
	return mb, nil
}

// ---------- subscriptions ----------

type subscriptionStore Store

func (ss *subscriptionStore) Create(_ context.Context, sub models.Subscription) (models.Subscription, error) {
	s := (*Store)(ss)
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	sub.CreatedAt = s.now()
	sub.UpdatedAt = sub.CreatedAt
	s.subs[sub.ID] = sub
	s.writes++
	return sub, nil
}

func (ss *subscriptionStore) find(match func(models.Subscription) bool) (models.Subscription, error) {
	s := (*Store)(ss)
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		found models.Subscription
		ok    bool
	)
	for _, sub := range s.subs {
		if match(sub) && (!ok || sub.CreatedAt.After(found.CreatedAt)) {
			found, ok = sub, true
		}
	}
	if !ok {
		return models.Subscription{}, repo.ErrNotFound
	}
	return found, nil
}

func (ss *subscriptionStore) GetByID(_ context.Context, id string) (models.Subscription, error) {
	return ss.find(func(sub models.Subscription) bool { return sub.ID == id })
}

func (ss *subscriptionStore) GetByTransaction(_ context.Context, transactionID string) (models.Subscription, error) {
	return ss.find(func(sub models.Subscription) bool { return sub.TransactionID == transactionID })
}

func (ss *subscriptionStore) GetByExternalID(_ context.Context, gateway, externalID string) (models.Subscription, error) {
	return ss.find(func(sub models.Subscription) bool {
		return externalID != "" && sub.Gateway == gateway && sub.ExternalID == externalID
	})
}

func (ss *subscriptionStore) GetLiveByPair(_ context.Context, supporterID, creatorID string) (models.Subscription, error) {
	return ss.find(func(sub models.Subscription) bool {
		return sub.SupporterID == supporterID && sub.CreatorID == creatorID && sub.Status.Live()
	})
}

func (ss *subscriptionStore) Transition(_ context.Context, id string, from, to models.SubscriptionStatus, patch models.SubscriptionPatch) (models.Subscription, error) {
	s := (*Store)(ss)
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok || sub.Status != from {
		return models.Subscription{}, repo.ErrConflict
	}
	sub.Status = to
	if patch.ExternalID != "" {
		sub.ExternalID = patch.ExternalID
	}
	if patch.PeriodStart != nil {
		sub.PeriodStart = patch.PeriodStart
	}
	if patch.PeriodEnd != nil {
		sub.PeriodEnd = patch.PeriodEnd
	}
	sub.UpdatedAt = s.now()
	s.subs[id] = sub
	s.writes++
	return sub, nil
}

// ---------- earnings ----------

type earningsStore Store

func (e *earningsStore) Create(_ context.Context, rec models.Earnings) (bool, error) {
	s := (*Store)(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.earnings[rec.TransactionID]; ok {
		return false, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = s.now()
	s.earnings[rec.TransactionID] = rec
	s.writes++
	return true, nil
}

func (e *earningsStore) GetByTransaction(_ context.Context, transactionID string) (models.Earnings, error) {
	s := (*Store)(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.earnings[transactionID]
	if !ok {
		return models.Earnings{}, repo.ErrNotFound
	}
	return rec, nil
}

// ---------- email jobs ----------

type jobStore Store

func (j *jobStore) Create(_ context.Context, job models.EmailJob) (models.EmailJob, error) {
	s := (*Store)(j)
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = models.DefaultMaxAttempts
	}
	now := s.now()
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = now
	}
	job.Status = models.EmailPending
	job.Attempts = 0
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs[job.ID] = job
	s.jobOrder = append(s.jobOrder, job.ID)
	s.writes++
	return job, nil
}

func due(job models.EmailJob, now time.Time) bool {
	return (job.Status == models.EmailPending || job.Status == models.EmailFailed) &&
		!job.NextAttemptAt.After(now) && job.Attempts < job.MaxAttempts
}

func (j *jobStore) ListDue(_ context.Context, now time.Time, limit int) ([]models.EmailJob, error) {
	s := (*Store)(j)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EmailJob
	for _, id := range s.jobOrder {
		if job := s.jobs[id]; due(job, now) {
			out = append(out, job)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (j *jobStore) Claim(_ context.Context, id string, now time.Time) (models.EmailJob, bool, error) {
	s := (*Store)(j)
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || !(job.Status == models.EmailPending || job.Status == models.EmailFailed) || job.Attempts >= job.MaxAttempts {
		return models.EmailJob{}, false, nil
	}
	job.Status = models.EmailProcessing
	job.Attempts++
	job.UpdatedAt = now
	s.jobs[id] = job
	s.writes++
	return job, true, nil
}

func (j *jobStore) MarkSent(_ context.Context, id string, now time.Time) error {
	s := (*Store)(j)
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return repo.ErrNotFound
	}
	job.Status = models.EmailSent
	job.SentAt = &now
	job.UpdatedAt = now
	job.LastError = nil
	s.jobs[id] = job
	s.writes++
	return nil
}

func (j *jobStore) MarkFailedAttempt(_ context.Context, id string, status models.EmailJobStatus, nextAttemptAt time.Time, lastError string) error {
	s := (*Store)(j)
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return repo.ErrNotFound
	}
	job.Status = status
	job.NextAttemptAt = nextAttemptAt
	job.LastError = &lastError
	job.UpdatedAt = s.now()
	s.jobs[id] = job
	s.writes++
	return nil
}

func (j *jobStore) GetByID(_ context.Context, id string) (models.EmailJob, error) {
	s := (*Store)(j)
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.EmailJob{}, repo.ErrNotFound
	}
	return job, nil
}

// ---------- channels, suppressions, users, audit ----------

type channelStore Store

func (c *channelStore) ListByCreator(_ context.Context, creatorID string) ([]models.Channel, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Channel(nil), s.channels[creatorID]...), nil
}

type suppressionStore Store

func (p *suppressionStore) Suppress(_ context.Context, supporterID, creatorID, reason string) error {
	s := (*Store)(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{supporterID, creatorID}
	if _, ok := s.suppressions[k]; !ok {
		s.suppressions[k] = reason
		s.writes++
	}
	return nil
}

func (p *suppressionStore) IsSuppressed(_ context.Context, supporterID, creatorID string) (bool, error) {
	s := (*Store)(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.suppressions[pairKey{supporterID, creatorID}]
	return ok, nil
}

type userStore Store

func (u *userStore) GetByID(_ context.Context, id string) (models.User, error) {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	usr, ok := s.users[id]
	if !ok {
		return models.User{}, repo.ErrNotFound
	}
	return usr, nil
}

type auditStore Store

func (a *auditStore) Create(_ context.Context, l models.AuditLog) error {
	s := (*Store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.CreatedAt = s.now()
	s.audit = append(s.audit, l)
	return nil
}
