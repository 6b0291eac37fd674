// Package leaderboard keeps per-activity daily high-score boards.
package leaderboard

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL is how long a daily board lives after its last write.
const TTL = 48 * time.Hour

// MinEntriesForDecile is the board size below which nobody is top decile.
const MinEntriesForDecile = 10

var ErrNotRanked = errors.New("member not on board")

// Entry is one board row.
type Entry struct {
	Member string `json:"account_id"`
	Score  int64  `json:"score"`
	Rank   int64  `json:"rank"`
}

// Standing is a member's position. Rank is 1-based.
type Standing struct {
	Entry
	Total     int64 `json:"total"`
	TopDecile bool  `json:"top_decile"`
}

// Board stores best scores per member.
type Board interface {
	// Submit keeps the higher of the stored and submitted score.
	Submit(ctx context.Context, board, member string, score int64) (Standing, error)
	Top(ctx context.Context, board string, n int64) ([]Entry, error)
	Standing(ctx context.Context, board, member string) (Standing, error)
}

// Name is the board key for an activity on a UTC day.
func Name(activityID, day string) string {
	return "lb:" + activityID + ":" + day
}

// InTopDecile reports whether a 0-based rank is within the top tenth of total.
func InTopDecile(rank0, total int64) bool {
	if total < MinEntriesForDecile {
		return false
	}
	cut := int64(math.Ceil(float64(total) * 0.1))
	return rank0 < cut
}

func standing(member string, score, rank0, total int64) Standing {
	return Standing{
		Entry:     Entry{Member: member, Score: score, Rank: rank0 + 1},
		Total:     total,
		TopDecile: InTopDecile(rank0, total),
	}
}

// RedisBoard keeps boards in sorted sets.
type RedisBoard struct {
	rdb *redis.Client
}

func NewRedisBoard(rdb *redis.Client) *RedisBoard {
	return &RedisBoard{rdb: rdb}
}

func (b *RedisBoard) Submit(ctx context.Context, board, member string, score int64) (Standing, error) {
	pipe := b.rdb.TxPipeline()
	pipe.ZAddGT(ctx, board, redis.Z{Score: float64(score), Member: member})
	pipe.Expire(ctx, board, TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return Standing{}, err
	}
	return b.Standing(ctx, board, member)
}

func (b *RedisBoard) Standing(ctx context.Context, board, member string) (Standing, error) {
	pipe := b.rdb.Pipeline()
	rank := pipe.ZRevRank(ctx, board, member)
	score := pipe.ZScore(ctx, board, member)
	card := pipe.ZCard(ctx, board)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Standing{}, err
	}
	if errors.Is(rank.Err(), redis.Nil) {
		return Standing{}, ErrNotRanked
	}
	if err := rank.Err(); err != nil {
		return Standing{}, err
	}
	return standing(member, int64(score.Val()), rank.Val(), card.Val()), nil
}

func (b *RedisBoard) Top(ctx context.Context, board string, n int64) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := b.rdb.ZRevRangeWithScores(ctx, board, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for i, z := range rows {
		member, _ := z.Member.(string)
		out = append(out, Entry{Member: member, Score: int64(z.Score), Rank: int64(i) + 1})
	}
	return out, nil
}

// MemoryBoard is an in-process Board ordered like a Redis sorted set read in
// reverse: score descending, then member descending.
type MemoryBoard struct {
	mu     sync.Mutex
	boards map[string]map[string]int64
}

func NewMemoryBoard() *MemoryBoard {
	return &MemoryBoard{boards: make(map[string]map[string]int64)}
}

func (b *MemoryBoard) Submit(_ context.Context, board, member string, score int64) (Standing, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.boards[board]
	if !ok {
		m = make(map[string]int64)
		b.boards[board] = m
	}
	if cur, ok := m[member]; !ok || score > cur {
		m[member] = score
	}
	return b.standingLocked(board, member)
}

func (b *MemoryBoard) Standing(_ context.Context, board, member string) (Standing, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.standingLocked(board, member)
}

func (b *MemoryBoard) standingLocked(board, member string) (Standing, error) {
	rows := b.sortedLocked(board)
	for i, e := range rows {
		if e.Member == member {
			return standing(member, e.Score, int64(i), int64(len(rows))), nil
		}
	}
	return Standing{}, ErrNotRanked
}

func (b *MemoryBoard) Top(_ context.Context, board string, n int64) ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows := b.sortedLocked(board)
	if n < int64(len(rows)) {
		rows = rows[:max(n, 0)]
	}
	return rows, nil
}

func (b *MemoryBoard) sortedLocked(board string) []Entry {
	m := b.boards[board]
	rows := make([]Entry, 0, len(m))
	for member, score := range m {
		rows = append(rows, Entry{Member: member, Score: score})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].Member > rows[j].Member
	})
	for i := range rows {
		rows[i].Rank = int64(i) + 1
	}
	return rows
}
