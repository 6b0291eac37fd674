// Package memory is an in-process implementation of store.Store.
//
// Transactions are serialisable: WithTx holds the store lock for the whole
// batch and works on a copy of the state that replaces the live state only
// when the batch succeeds.
package memory

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orangearcade/backend/internal/models"
	"github.com/orangearcade/backend/internal/store"
)

type dailyKey struct {
	accountID string
	day       string
}

type state struct {
	accounts     map[string]models.Account
	transactions []models.Transaction
	keys         map[string]struct{}
	sessions     map[string]models.Session
	progress     map[models.ProgressKey]models.ProgressRecord
	bans         map[string]models.BanRecord
	results      []models.GameResult
	resultIndex  map[string]int
	daily        map[dailyKey]models.DailyLogin
	audit        []models.AuditRecord
	admins       map[string]models.AdminAccount
	adminAudit   []models.AdminAudit
	nextID       int64
}

func newState() *state {
	return &state{
		accounts:    make(map[string]models.Account),
		keys:        make(map[string]struct{}),
		sessions:    make(map[string]models.Session),
		progress:    make(map[models.ProgressKey]models.ProgressRecord),
		bans:        make(map[string]models.BanRecord),
		resultIndex: make(map[string]int),
		daily:       make(map[dailyKey]models.DailyLogin),
		admins:      make(map[string]models.AdminAccount),
	}
}

func (s *state) clone() *state {
	c := &state{
		accounts:     make(map[string]models.Account, len(s.accounts)),
		transactions: append([]models.Transaction(nil), s.transactions...),
		keys:         make(map[string]struct{}, len(s.keys)),
		sessions:     make(map[string]models.Session, len(s.sessions)),
		progress:     make(map[models.ProgressKey]models.ProgressRecord, len(s.progress)),
		bans:         make(map[string]models.BanRecord, len(s.bans)),
		results:      append([]models.GameResult(nil), s.results...),
		resultIndex:  make(map[string]int, len(s.resultIndex)),
		daily:        make(map[dailyKey]models.DailyLogin, len(s.daily)),
		audit:        append([]models.AuditRecord(nil), s.audit...),
		admins:       make(map[string]models.AdminAccount, len(s.admins)),
		adminAudit:   append([]models.AdminAudit(nil), s.adminAudit...),
		nextID:       s.nextID,
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k := range s.keys {
		c.keys[k] = struct{}{}
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.progress {
		c.progress[k] = v
	}
	for k, v := range s.bans {
		c.bans[k] = v
	}
	for k, v := range s.resultIndex {
		c.resultIndex[k] = v
	}
	for k, v := range s.daily {
		c.daily[k] = v
	}
	for k, v := range s.admins {
		c.admins[k] = v
	}
	return c
}

// Store is a serialisable in-memory store.
type Store struct {
	mu   sync.Mutex
	data *state
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newState()}
}

// WithTx runs fn against a private copy and publishes it on success.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// View runs fn against the live state under the store lock.
func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&tx{st: s.data})
}

func (s *Store) Close() error { return nil }

type tx struct {
	st *state
}

func (t *tx) GetAccount(_ context.Context, id string) (*models.Account, error) {
	a, ok := t.st.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (t *tx) EnsureAccount(ctx context.Context, id string, now time.Time) (*models.Account, error) {
	if _, ok := t.st.accounts[id]; !ok {
		t.st.accounts[id] = models.Account{ID: id, CreatedAt: now, UpdatedAt: now}
	}
	return t.GetAccount(ctx, id)
}

func (t *tx) LockAccount(ctx context.Context, id string) (*models.Account, error) {
	return t.GetAccount(ctx, id)
}

func (t *tx) SaveBalances(_ context.Context, a *models.Account) error {
	cur, ok := t.st.accounts[a.ID]
	if !ok {
		return store.ErrNotFound
	}
	cur.Oranges = a.Oranges
	cur.Gems = a.Gems
	cur.LifetimeOranges = a.LifetimeOranges
	cur.LifetimeGems = a.LifetimeGems
	cur.UpdatedAt = a.UpdatedAt
	t.st.accounts[a.ID] = cur
	return nil
}

func (t *tx) InsertTransaction(_ context.Context, row *models.Transaction) error {
	if row.IdempotencyKey.Valid {
		if _, dup := t.st.keys[row.IdempotencyKey.String]; dup {
			return store.ErrDuplicateKey
		}
		t.st.keys[row.IdempotencyKey.String] = struct{}{}
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.Metadata == nil {
		row.Metadata = []byte("{}")
	}
	t.st.transactions = append(t.st.transactions, *row)
	return nil
}

func (t *tx) TransactionsByKeys(_ context.Context, keys []string) ([]models.Transaction, error) {
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	var out []models.Transaction
	for _, row := range t.st.transactions {
		if !row.IdempotencyKey.Valid {
			continue
		}
		if _, ok := want[row.IdempotencyKey.String]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (t *tx) ListTransactions(_ context.Context, accountID string, limit, offset int) ([]models.Transaction, error) {
	var rows []models.Transaction
	for i := len(t.st.transactions) - 1; i >= 0; i-- {
		if t.st.transactions[i].AccountID == accountID {
			rows = append(rows, t.st.transactions[i])
		}
	}
	return page(rows, limit, offset), nil
}

func (t *tx) SumTransactions(_ context.Context, accountID string) (models.Amounts, error) {
	var sum models.Amounts
	for _, row := range t.st.transactions {
		if row.AccountID == accountID {
			sum = sum.Add(models.Single(row.Currency, row.Amount))
		}
	}
	return sum, nil
}

func (t *tx) GetSession(_ context.Context, accountID string) (*models.Session, error) {
	s, ok := t.st.sessions[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (t *tx) PutSession(_ context.Context, s *models.Session) error {
	t.st.sessions[s.AccountID] = *s
	return nil
}

func (t *tx) TouchSession(_ context.Context, accountID, sessionID string, now, liveAfter time.Time) (bool, error) {
	s, ok := t.st.sessions[accountID]
	if !ok || s.SessionID != sessionID || !s.LastHeartbeat.After(liveAfter) {
		return false, nil
	}
	s.LastHeartbeat = now
	t.st.sessions[accountID] = s
	return true, nil
}

func (t *tx) DeleteSession(_ context.Context, accountID string) error {
	delete(t.st.sessions, accountID)
	return nil
}

func (t *tx) GetProgress(_ context.Context, key models.ProgressKey) (*models.ProgressRecord, error) {
	p, ok := t.st.progress[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *tx) InsertProgress(_ context.Context, p *models.ProgressRecord) error {
	if _, ok := t.st.progress[p.ProgressKey]; ok {
		return store.ErrDuplicateKey
	}
	t.st.progress[p.ProgressKey] = *p
	return nil
}

func (t *tx) UpdateProgress(_ context.Context, p *models.ProgressRecord) error {
	cur, ok := t.st.progress[p.ProgressKey]
	if !ok {
		return store.ErrNotFound
	}
	cur.Progress = p.Progress
	cur.CompletedAt = p.CompletedAt
	cur.RewardOranges = p.RewardOranges
	cur.RewardGems = p.RewardGems
	cur.UpdatedAt = p.UpdatedAt
	t.st.progress[p.ProgressKey] = cur
	return nil
}

func (t *tx) ClaimProgress(_ context.Context, key models.ProgressKey, now time.Time) (bool, error) {
	p, ok := t.st.progress[key]
	if !ok || !p.CompletedAt.Valid || p.ClaimedAt.Valid {
		return false, nil
	}
	p.ClaimedAt = sql.NullTime{Time: now, Valid: true}
	p.UpdatedAt = now
	t.st.progress[key] = p
	return true, nil
}

func (t *tx) ListProgress(_ context.Context, accountID string, kind models.ProgressKind, day string) ([]models.ProgressRecord, error) {
	var rows []models.ProgressRecord
	for k, p := range t.st.progress {
		if k.AccountID == accountID && k.Kind == kind && k.Day == day {
			rows = append(rows, p)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].GoalID < rows[j].GoalID })
	return rows, nil
}

func (t *tx) ForfeitUnclaimed(_ context.Context, accountID string, now time.Time) (int64, error) {
	var n int64
	for k, p := range t.st.progress {
		if k.AccountID != accountID || p.ClaimedAt.Valid {
			continue
		}
		if p.RewardOranges == 0 && p.RewardGems == 0 {
			continue
		}
		p.RewardOranges, p.RewardGems = 0, 0
		p.UpdatedAt = now
		t.st.progress[k] = p
		n++
	}
	return n, nil
}

func (t *tx) GetBan(_ context.Context, accountID string) (*models.BanRecord, error) {
	b, ok := t.st.bans[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (t *tx) UpsertBan(_ context.Context, b *models.BanRecord) error {
	if cur, ok := t.st.bans[b.AccountID]; ok {
		cur.Reason = b.Reason
		cur.Evidence = b.Evidence
		cur.AppealStatus = b.AppealStatus
		cur.UpdatedAt = b.UpdatedAt
		t.st.bans[b.AccountID] = cur
		return nil
	}
	t.st.bans[b.AccountID] = *b
	return nil
}

func (t *tx) SetAppealStatus(_ context.Context, accountID string, status models.AppealStatus, now time.Time) error {
	b, ok := t.st.bans[accountID]
	if !ok {
		return store.ErrNotFound
	}
	b.AppealStatus = status
	b.UpdatedAt = now
	t.st.bans[accountID] = b
	return nil
}

func (t *tx) InsertGameResult(_ context.Context, r *models.GameResult) error {
	if _, ok := t.st.resultIndex[r.SessionID]; ok {
		return store.ErrDuplicateKey
	}
	t.st.nextID++
	r.ID = t.st.nextID
	t.st.resultIndex[r.SessionID] = len(t.st.results)
	t.st.results = append(t.st.results, *r)
	return nil
}

func (t *tx) GameResultBySession(_ context.Context, sessionID string) (*models.GameResult, error) {
	i, ok := t.st.resultIndex[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	r := t.st.results[i]
	return &r, nil
}

func (t *tx) ActivityStats(_ context.Context, activityID string) (models.ActivityStats, error) {
	var (
		stats            models.ActivityStats
		scores           []float64
		sumScore, sumDur float64
		sumRate          float64
		rateSamples      int64
	)
	stats.MaxScore = math.Inf(-1)
	for _, r := range t.st.results {
		if r.ActivityID != activityID {
			continue
		}
		score := float64(r.Score)
		stats.SampleCount++
		sumScore += score
		sumDur += r.DurationSeconds
		if score > stats.MaxScore {
			stats.MaxScore = score
		}
		if r.DurationSeconds > 0 {
			sumRate += score / r.DurationSeconds
			rateSamples++
		}
		scores = append(scores, score)
	}
	if stats.SampleCount == 0 {
		return models.ActivityStats{}, nil
	}
	n := float64(stats.SampleCount)
	stats.MeanScore = sumScore / n
	stats.MeanDuration = sumDur / n
	if rateSamples > 0 {
		stats.MeanScorePerSecond = sumRate / float64(rateSamples)
	}
	stats.P90Score = percentile(scores, 0.9)
	return stats, nil
}

func (t *tx) PersonalBest(_ context.Context, accountID, activityID string) (int64, bool, error) {
	var (
		best  int64
		found bool
	)
	for _, r := range t.st.results {
		if r.AccountID != accountID || r.ActivityID != activityID {
			continue
		}
		if !found || r.Score > best {
			best, found = r.Score, true
		}
	}
	return best, found, nil
}

func (t *tx) GetDailyLogin(_ context.Context, accountID, day string) (*models.DailyLogin, error) {
	d, ok := t.st.daily[dailyKey{accountID, day}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (t *tx) InsertDailyLogin(_ context.Context, d *models.DailyLogin) error {
	k := dailyKey{d.AccountID, d.Day}
	if _, ok := t.st.daily[k]; ok {
		return store.ErrDuplicateKey
	}
	t.st.daily[k] = *d
	return nil
}

func (t *tx) AppendAudit(_ context.Context, r *models.AuditRecord) error {
	t.st.nextID++
	r.ID = t.st.nextID
	if r.Details == nil {
		r.Details = []byte("{}")
	}
	t.st.audit = append(t.st.audit, *r)
	return nil
}

func (t *tx) ListAudit(_ context.Context, accountID string, limit, offset int) ([]models.AuditRecord, error) {
	var rows []models.AuditRecord
	for i := len(t.st.audit) - 1; i >= 0; i-- {
		if accountID == "" || t.st.audit[i].AccountID == accountID {
			rows = append(rows, t.st.audit[i])
		}
	}
	return page(rows, limit, offset), nil
}

func (t *tx) GetAdminAccount(_ context.Context, username string) (*models.AdminAccount, error) {
	a, ok := t.st.admins[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	a.Roles = append([]string(nil), a.Roles...)
	return &a, nil
}

func (t *tx) UpsertAdminAccount(_ context.Context, a *models.AdminAccount) error {
	c := *a
	c.Roles = append([]string(nil), a.Roles...)
	if cur, ok := t.st.admins[a.Username]; ok {
		c.CreatedAt = cur.CreatedAt
	}
	t.st.admins[a.Username] = c
	return nil
}

func (t *tx) InsertAdminAudit(_ context.Context, a *models.AdminAudit) error {
	t.st.nextID++
	a.ID = t.st.nextID
	t.st.adminAudit = append(t.st.adminAudit, *a)
	return nil
}

func (t *tx) ListAdminAudit(_ context.Context, username string, limit, offset int) ([]models.AdminAudit, error) {
	var rows []models.AdminAudit
	for i := len(t.st.adminAudit) - 1; i >= 0; i-- {
		if username == "" || t.st.adminAudit[i].AdminUsername == username {
			rows = append(rows, t.st.adminAudit[i])
		}
	}
	return page(rows, limit, offset), nil
}

func page[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

// percentile uses linear interpolation between closest ranks, matching
// postgres percentile_cont.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
