package economy

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orangearcade/backend/internal/anomaly"
	"github.com/orangearcade/backend/internal/audit"
	"github.com/orangearcade/backend/internal/bans"
	"github.com/orangearcade/backend/internal/ledger"
	"github.com/orangearcade/backend/internal/leaderboard"
	"github.com/orangearcade/backend/internal/models"
	"github.com/orangearcade/backend/internal/progress"
	"github.com/orangearcade/backend/internal/rewards"
	"github.com/orangearcade/backend/internal/session"
	"github.com/orangearcade/backend/internal/store"
	"github.com/orangearcade/backend/internal/store/memory"
)

const day = 24 * time.Hour

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.WalletEvent
}

func (n *recordingNotifier) Publish(_ context.Context, ev models.WalletEvent) error {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	ledger   *ledger.Engine
	clock    *clock
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := rewards.Default()
	require.NoError(t, err)

	st := memory.New()
	c := &clock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	sink := audit.NewStoreSink(st)
	l := ledger.New(st).WithClock(c.Now)
	n := &recordingNotifier{}

	svc := New(Deps{
		Store:      st,
		Gate:       bans.NewGate(st, sink).WithClock(c.Now),
		Sessions:   session.NewManager(st, session.DefaultTimeout).WithClock(c.Now),
		Detector:   anomaly.NewDetector(anomaly.StoreStats{Store: st}, anomaly.DefaultConfig()),
		Calculator: rewards.NewCalculator(cat),
		Tracker:    progress.NewTracker(st, cat, l).WithClock(c.Now),
		Ledger:     l,
		Boards:     leaderboard.NewMemoryBoard(),
		Audit:      sink,
		Notifier:   n,
	}).WithClock(c.Now)
	t.Cleanup(svc.Wait)

	return &fixture{svc: svc, store: st, ledger: l, clock: c, notifier: n}
}

// seed creates an account of the given age holding oranges.
func (f *fixture) seed(t *testing.T, acct string, age time.Duration, oranges int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.EnsureAccount(ctx, acct, f.clock.Now().Add(-age))
		return err
	}))
	if oranges > 0 {
		_, err := f.ledger.Apply(ctx, ledger.Entry{
			AccountID:      acct,
			IdempotencyKey: "seed:" + acct,
			Deltas:         models.Amounts{Oranges: oranges},
			Source:         models.SourceDailyLogin,
		})
		require.NoError(t, err)
	}
}

func (f *fixture) play(t *testing.T, acct, activity string, score int64, high bool) (*Outcome, error) {
	t.Helper()
	ctx := context.Background()
	sess, err := f.svc.StartActivity(ctx, acct, activity)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	return f.svc.CompleteGameplay(ctx, GameplayRequest{
		AccountID:  acct,
		SessionID:  sess.SessionID,
		ActivityID: activity,
		Score:      score,
		HighScore:  high,
	})
}

func requireReason(t *testing.T, err error, want Reason) *Rejection {
	t.Helper()
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, want, rej.Reason, rej.Message)
	return rej
}

func TestHardHighScoreCreditAndReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "acct", 10*day, 100)

	sess, err := f.svc.StartActivity(ctx, "acct", "grove-defender")
	require.NoError(t, err)
	f.clock.Advance(90 * time.Second)

	req := GameplayRequest{AccountID: "acct", SessionID: sess.SessionID, ActivityID: "grove-defender", Score: 5000, HighScore: true}
	out, err := f.svc.CompleteGameplay(ctx, req)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.False(t, out.AlreadyApplied)
	assert.Equal(t, int64(35), out.Reward.Amounts.Oranges)
	require.NotNil(t, out.Reward.Breakdown)
	assert.Equal(t, rewards.Breakdown{Base: 15, HighScore: 20}, *out.Reward.Breakdown)
	assert.Equal(t, int64(135), out.NewBalance.Oranges)

	history, err := f.svc.Transactions(ctx, "acct", 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.SourceGameplay, history[0].Source)
	assert.Equal(t, int64(35), history[0].Amount)
	assert.Equal(t, ledger.CurrencyKey(ledger.KeyGameplay(sess.SessionID), models.CurrencyOranges), history[0].IdempotencyKey.String)

	st, err := f.svc.SessionStatus(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, st.Active, "completion clears the session")

	replay, err := f.svc.CompleteGameplay(ctx, req)
	require.NoError(t, err)
	assert.True(t, replay.AlreadyApplied)
	assert.Equal(t, int64(135), replay.NewBalance.Oranges)
	assert.Equal(t, int64(35), replay.Reward.Amounts.Oranges)

	history, err = f.svc.Transactions(ctx, "acct", 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2, "replay adds no transaction")

	rec, err := f.svc.Reconcile(ctx, "acct")
	require.NoError(t, err)
	assert.True(t, rec.Balanced)
	assert.Equal(t, 1, f.notifier.count())
}

func TestConcurrentCompletionCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "acct", 10*day, 0)

	sess, err := f.svc.StartActivity(ctx, "acct", "orange-dash")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	req := GameplayRequest{AccountID: "acct", SessionID: sess.SessionID, ActivityID: "orange-dash", Score: 800}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.svc.CompleteGameplay(ctx, req)
			if !assert.NoError(t, err) {
				return
			}
			if !out.AlreadyApplied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, applied)

	w, err := f.svc.Wallet(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(10), w.Balance.Oranges)
}

func TestTrustDecayForNewAccount(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "fresh", 2*day, 0)

	out, err := f.play(t, "fresh", "grove-defender", 5000, true)
	require.NoError(t, err)
	assert.Equal(t, int64(17), out.Reward.Amounts.Oranges)
	assert.Equal(t, int64(18), out.Reward.Breakdown.TrustDecay)
}

func TestHighScoreVerifiedAgainstPersonalBest(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "acct", 30*day, 0)

	out, err := f.play(t, "acct", "orange-dash", 2000, true)
	require.NoError(t, err)
	assert.Equal(t, int64(20), out.Reward.Amounts.Oranges, "first run is a personal best")

	out, err = f.play(t, "acct", "orange-dash", 1500, true)
	require.NoError(t, err)
	assert.Equal(t, int64(10), out.Reward.Amounts.Oranges, "claimed high score below the stored best is ignored")

	out, err = f.play(t, "acct", "orange-dash", 2500, true)
	require.NoError(t, err)
	assert.Equal(t, int64(20), out.Reward.Amounts.Oranges)
}

func TestBelowMinimumIsInformational(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "acct", 30*day, 0)

	out, err := f.play(t, "acct", "word-grove", 50, true)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, ReasonBelowMinimum, out.Notice)
	assert.True(t, out.Reward.Amounts.IsZero())
	assert.Empty(t, out.Completed)

	history, err := f.svc.Transactions(ctx, "acct", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	st, err := f.svc.SessionStatus(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, st.Active)
}

func TestGameplayRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "acct", 30*day, 0)

	_, err := f.svc.CompleteGameplay(ctx, GameplayRequest{AccountID: "acct", SessionID: "nope", ActivityID: "orange-dash", Score: 600})
	requireReason(t, err, ReasonSessionNotFound)

	_, err = f.svc.CompleteGameplay(ctx, GameplayRequest{AccountID: "acct", SessionID: "x", ActivityID: "chess", Score: 1})
	requireReason(t, err, ReasonInvalidRequest)

	_, err = f.svc.CompleteGameplay(ctx, GameplayRequest{SessionID: "x", ActivityID: "orange-dash"})
	requireReason(t, err, ReasonUnauthorized)

	sess, err := f.svc.StartActivity(ctx, "acct", "orange-dash")
	require.NoError(t, err)

	_, err = f.svc.StartActivity(ctx, "acct", "word-grove")
	rej := requireReason(t, err, ReasonConflict)
	assert.Equal(t, "orange-dash", rej.Details["activity_id"])

	_, err = f.svc.CompleteGameplay(ctx, GameplayRequest{AccountID: "acct", SessionID: sess.SessionID, ActivityID: "word-grove", Score: 600})
	requireReason(t, err, ReasonInvalidRequest)

	_, err = f.svc.CompleteGameplay(ctx, GameplayRequest{AccountID: "other", SessionID: sess.SessionID, ActivityID: "orange-dash", Score: 600})
	requireReason(t, err, ReasonSessionNotFound)

	f.clock.Advance(3 * time.Minute)
	_, err = f.svc.CompleteGameplay(ctx, GameplayRequest{AccountID: "acct", SessionID: sess.SessionID, ActivityID: "orange-dash", Score: 600})
	requireReason(t, err, ReasonSessionNotFound)
}

func TestBannedAccountIsShortCircuited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "cheat", 30*day, 50)

	sess, err := f.svc.StartActivity(ctx, "cheat", "orange-dash")
	require.NoError(t, err)

	_, err = f.svc.BanUser(ctx, "cheat", "bot", map[string]any{"runs": 400})
	require.NoError(t, err)

	_, err = f.svc.CompleteGameplay(ctx, GameplayRequest{AccountID: "cheat", SessionID: sess.SessionID, ActivityID: "orange-dash", Score: 900})
	rej := requireReason(t, err, ReasonBanned)
	assert.Equal(t, "account suspended", rej.Message)

	_, err = f.svc.ClaimDailyLogin(ctx, "cheat")
	requireReason(t, err, ReasonBanned)
	_, err = f.svc.StartActivity(ctx, "cheat", "orange-dash")
	requireReason(t, err, ReasonBanned)
	_, err = f.svc.SubmitLeaderboard(ctx, "cheat", "orange-dash", 10)
	requireReason(t, err, ReasonBanned)

	w, err := f.svc.Wallet(ctx, "cheat")
	require.NoError(t, err)
	assert.True(t, w.Banned)
	assert.Equal(t, int64(50), w.Balance.Oranges)

	require.NoError(t, f.svc.SetAppeal(ctx, "cheat", models.AppealApproved))
	_, err = f.svc.ClaimDailyLogin(ctx, "cheat")
	require.NoError(t, err)

	err = f.svc.SetAppeal(ctx, "nobody", models.AppealApproved)
	requireReason(t, err, ReasonNotFound)
	err = f.svc.SetAppeal(ctx, "cheat", "maybe")
	requireReason(t, err, ReasonInvalidRequest)

	logs, err := f.svc.AuditLog(ctx, "cheat", 0, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.AuditAppeal, logs[0].Kind)
	assert.Equal(t, models.AuditBan, logs[1].Kind)
}

func TestDailyLoginStreak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.ClaimDailyLogin(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Streak)
	assert.Equal(t, int64(10), out.Reward.Amounts.Oranges)
	assert.Equal(t, int64(10), out.NewBalance.Oranges)

	again, err := f.svc.ClaimDailyLogin(ctx, "acct")
	require.NoError(t, err)
	assert.True(t, again.AlreadyApplied)
	assert.Equal(t, int64(10), again.NewBalance.Oranges)

	f.clock.Advance(day)
	out, err = f.svc.ClaimDailyLogin(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 2, out.Streak)
	assert.Equal(t, int64(15), out.Reward.Amounts.Oranges)
	assert.Equal(t, int64(25), out.NewBalance.Oranges)

	f.clock.Advance(2 * day)
	out, err = f.svc.ClaimDailyLogin(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Streak, "a missed day resets the streak")
}

func TestDailyLoginUTCDayBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clock.now = time.Date(2026, 3, 10, 23, 59, 59, 0, time.UTC)

	_, err := f.svc.ClaimDailyLogin(ctx, "acct")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Second)
	out, err := f.svc.ClaimDailyLogin(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, out.AlreadyApplied, "a new UTC day is a new claim")
	assert.Equal(t, 2, out.Streak)
}

func TestAchievementAndChallengeClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "acct", 30*day, 0)

	_, err := f.svc.ClaimAchievement(ctx, "acct", "first-game")
	rej := requireReason(t, err, ReasonNotCompleted)
	assert.Equal(t, int64(0), rej.Details["progress"])

	out, err := f.play(t, "acct", "orange-dash", 600, false)
	require.NoError(t, err)
	assert.Contains(t, out.Completed, progress.Completion{Kind: models.KindAchievement, GoalID: "first-game"})
	assert.Contains(t, out.Completed, progress.Completion{Kind: models.KindChallenge, GoalID: "dash-daily"})

	claim, err := f.svc.ClaimAchievement(ctx, "acct", "first-game")
	require.NoError(t, err)
	assert.Equal(t, int64(25), claim.Reward.Amounts.Oranges)
	assert.Equal(t, int64(35), claim.NewBalance.Oranges)

	_, err = f.svc.ClaimAchievement(ctx, "acct", "first-game")
	requireReason(t, err, ReasonAlreadyClaimed)

	_, err = f.svc.ClaimChallenge(ctx, "acct", "play-three")
	rej = requireReason(t, err, ReasonNotCompleted)
	assert.Equal(t, int64(1), rej.Details["progress"])
	assert.Equal(t, int64(3), rej.Details["target"])

	_, err = f.svc.ClaimChallenge(ctx, "acct", "no-such-goal")
	requireReason(t, err, ReasonInvalidRequest)

	goals, err := f.svc.Progress(ctx, "acct", models.KindChallenge)
	require.NoError(t, err)
	states := map[string]progress.State{}
	for _, g := range goals {
		states[g.ID] = g.State
	}
	assert.Equal(t, progress.StateCompleted, states["dash-daily"])
	assert.Equal(t, progress.StateInProgress, states["play-three"])

	_, err = f.svc.Progress(ctx, "acct", "weekly")
	requireReason(t, err, ReasonInvalidRequest)
}

func TestLeaderboardTopDecileBonusOncePerDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 9; i++ {
		out, err := f.svc.SubmitLeaderboard(ctx, fmt.Sprintf("p%02d", i), "orange-dash", int64(i*100))
		require.NoError(t, err)
		assert.True(t, out.Reward.Amounts.IsZero(), "no decile below ten entries")
	}

	f.seed(t, "champ", 30*day, 0)
	out, err := f.svc.SubmitLeaderboard(ctx, "champ", "orange-dash", 10000)
	require.NoError(t, err)
	require.NotNil(t, out.Standing)
	assert.True(t, out.Standing.TopDecile)
	assert.Equal(t, int64(15), out.Reward.Amounts.Oranges)
	require.NotNil(t, out.Reward.Breakdown)
	assert.Equal(t, int64(0), out.Reward.Breakdown.TrustDecay)
	assert.Equal(t, int64(15), out.NewBalance.Oranges)

	again, err := f.svc.SubmitLeaderboard(ctx, "champ", "orange-dash", 12000)
	require.NoError(t, err)
	assert.True(t, again.AlreadyApplied)
	assert.Equal(t, int64(15), again.NewBalance.Oranges)

	top, standing, err := f.svc.Leaderboard(ctx, "champ", "orange-dash", 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "champ", top[0].Member)
	assert.Equal(t, int64(12000), top[0].Score)
	require.NotNil(t, standing)
	assert.Equal(t, int64(1), standing.Rank)

	f.clock.Advance(day)
	_, standing, err = f.svc.Leaderboard(ctx, "champ", "orange-dash", 3)
	require.NoError(t, err)
	assert.Nil(t, standing, "boards are daily")
}

func TestLeaderboardBonusDecaysForNewAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 9; i++ {
		_, err := f.svc.SubmitLeaderboard(ctx, fmt.Sprintf("p%02d", i), "orange-dash", int64(i*100))
		require.NoError(t, err)
	}
	f.seed(t, "rookie", day, 0)

	out, err := f.svc.SubmitLeaderboard(ctx, "rookie", "orange-dash", 10000)
	require.NoError(t, err)
	assert.True(t, out.Standing.TopDecile)
	assert.Equal(t, int64(7), out.Reward.Amounts.Oranges)
	assert.Equal(t, int64(8), out.Reward.Breakdown.TrustDecay)
	assert.Equal(t, int64(7), out.NewBalance.Oranges)
}

// A ban committed after the pre-check must still stop the credit: each batch
// re-reads the ban under the account lock.
func TestBanCommittedAfterPreCheckBlocksCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "cheat", 30*day, 50)
	f.seed(t, "friend", 30*day, 0)

	_, err := f.play(t, "cheat", "word-grove", 100, false)
	require.NoError(t, err)
	sess, err := f.svc.StartActivity(ctx, "cheat", "orange-dash")
	require.NoError(t, err)

	// stale's gate reads an empty store, so its pre-check never sees a ban.
	cat, err := rewards.Default()
	require.NoError(t, err)
	l := ledger.New(f.store).WithClock(f.clock.Now)
	stale := New(Deps{
		Store:      f.store,
		Gate:       bans.NewGate(memory.New(), audit.NewStoreSink(f.store)).WithClock(f.clock.Now),
		Sessions:   session.NewManager(f.store, session.DefaultTimeout).WithClock(f.clock.Now),
		Calculator: rewards.NewCalculator(cat),
		Tracker:    progress.NewTracker(f.store, cat, l).WithClock(f.clock.Now),
		Ledger:     l,
		Audit:      audit.NewStoreSink(f.store),
	}).WithClock(f.clock.Now)
	t.Cleanup(stale.Wait)

	for i := 1; i <= 9; i++ {
		_, err := stale.SubmitLeaderboard(ctx, fmt.Sprintf("p%02d", i), "orange-dash", int64(i*100))
		require.NoError(t, err)
	}

	_, err = f.svc.BanUser(ctx, "cheat", "bot", nil)
	require.NoError(t, err)

	_, err = stale.CompleteGameplay(ctx, GameplayRequest{AccountID: "cheat", SessionID: sess.SessionID, ActivityID: "orange-dash", Score: 900})
	requireReason(t, err, ReasonBanned)
	_, err = stale.ClaimDailyLogin(ctx, "cheat")
	requireReason(t, err, ReasonBanned)
	_, err = stale.ClaimAchievement(ctx, "cheat", "first-game")
	requireReason(t, err, ReasonBanned)
	_, err = stale.SubmitLeaderboard(ctx, "cheat", "orange-dash", 10000)
	requireReason(t, err, ReasonBanned)
	_, err = stale.SendGift(ctx, GiftRequest{From: "cheat", To: "friend", Currency: "oranges", Amount: 10, RequestID: "g1"})
	requireReason(t, err, ReasonBanned)
	_, err = stale.SendGift(ctx, GiftRequest{From: "friend", To: "cheat", Currency: "oranges", Amount: 1, RequestID: "g2"})
	requireReason(t, err, ReasonBanned)

	w, err := f.svc.Wallet(ctx, "cheat")
	require.NoError(t, err)
	assert.Equal(t, int64(55), w.Balance.Oranges, "only the pre-ban game was paid")
}

func TestSendGift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "alice", 30*day, 100)
	f.seed(t, "bob", 30*day, 0)

	req := GiftRequest{From: "alice", To: "bob", Currency: "oranges", Amount: 40, RequestID: "g1"}
	out, err := f.svc.SendGift(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(60), out.NewBalance.Oranges)
	assert.Equal(t, int64(-40), out.Reward.Amounts.Oranges)

	replay, err := f.svc.SendGift(ctx, req)
	require.NoError(t, err)
	assert.True(t, replay.AlreadyApplied)
	assert.Equal(t, int64(60), replay.NewBalance.Oranges)

	bob, err := f.svc.Wallet(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(40), bob.Balance.Oranges)

	_, err = f.svc.SendGift(ctx, GiftRequest{From: "alice", To: "bob", Currency: "oranges", Amount: 500, RequestID: "g2"})
	rej := requireReason(t, err, ReasonInsufficientFunds)
	assert.Equal(t, int64(500), rej.Details["required"])
	assert.Equal(t, int64(60), rej.Details["available"])

	bob, err = f.svc.Wallet(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(40), bob.Balance.Oranges, "failed gift leaves the recipient untouched")

	invalidGifts := []GiftRequest{
		{From: "alice", To: "alice", Currency: "oranges", Amount: 1, RequestID: "x"},
		{From: "alice", To: "bob", Currency: "rubies", Amount: 1, RequestID: "x"},
		{From: "alice", To: "bob", Currency: "gems", Amount: 0, RequestID: "x"},
		{From: "alice", To: "bob", Currency: "gems", Amount: 1},
		{From: "alice", To: "ghost", Currency: "oranges", Amount: 1, RequestID: "x"},
	}
	for _, g := range invalidGifts {
		_, err := f.svc.SendGift(ctx, g)
		requireReason(t, err, ReasonInvalidRequest)
	}

	_, err = f.svc.BanUser(ctx, "bob", "abuse", nil)
	require.NoError(t, err)
	_, err = f.svc.SendGift(ctx, GiftRequest{From: "alice", To: "bob", Currency: "oranges", Amount: 1, RequestID: "g3"})
	requireReason(t, err, ReasonBanned)

	for _, acct := range []string{"alice", "bob"} {
		rec, err := f.svc.Reconcile(ctx, acct)
		require.NoError(t, err)
		assert.True(t, rec.Balanced, acct)
	}
}

func TestAnomalyFlagIsAuditedWithoutBlocking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "acct", 30*day, 0)

	require.NoError(t, f.store.WithTx(ctx, func(tx store.Tx) error {
		for i := 0; i < 100; i++ {
			err := tx.InsertGameResult(ctx, &models.GameResult{
				AccountID:       fmt.Sprintf("hist-%d", i),
				SessionID:       fmt.Sprintf("hist-session-%d", i),
				ActivityID:      "orange-dash",
				Score:           1000,
				DurationSeconds: 60,
				CompletedAt:     f.clock.Now(),
			})
			if err != nil {
				return err
			}
		}
		return nil
	}))

	out, err := f.play(t, "acct", "orange-dash", 10000, false)
	require.NoError(t, err)
	assert.Equal(t, int64(25), out.Reward.Amounts.Oranges, "base plus top decile bonus")

	f.svc.Wait()
	logs, err := f.svc.AuditLog(ctx, "acct", 0, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditAnomalyFlag, logs[0].Kind)
	assert.Equal(t, string(anomaly.ReasonOutlierMagnitude), logs[0].Reason)
	assert.Equal(t, int64(10000), logs[0].Score)
	assert.Equal(t, "orange-dash", logs[0].ActivityID)
}

func TestHeartbeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.StartActivity(ctx, "acct", "word-grove")
	require.NoError(t, err)

	f.clock.Advance(90 * time.Second)
	_, err = f.svc.Heartbeat(ctx, "acct", sess.SessionID)
	require.NoError(t, err)

	f.clock.Advance(90 * time.Second)
	st, err := f.svc.SessionStatus(ctx, "acct")
	require.NoError(t, err)
	assert.True(t, st.Active, "heartbeat extended the session")

	_, err = f.svc.Heartbeat(ctx, "acct", "stale")
	requireReason(t, err, ReasonSessionNotFound)
	_, err = f.svc.Heartbeat(ctx, "acct", "")
	requireReason(t, err, ReasonInvalidRequest)
}
