package ledger

import "strings"

// Idempotency keys are derived from durable ids so retries collapse and
// distinct events never share a key.

func KeyGameplay(sessionID string) string {
	return join("gameplay", sessionID)
}

func KeyDailyLogin(accountID, day string) string {
	return join("daily_login", accountID, day)
}

func KeyAchievement(accountID, goalID string) string {
	return join("achievement", accountID, goalID)
}

func KeyChallenge(accountID, goalID, day string) string {
	return join("challenge", accountID, goalID, day)
}

// KeyLeaderboard covers one top-decile reward per account, activity and day.
func KeyLeaderboard(accountID, activityID, day string) string {
	return join("leaderboard", accountID, activityID, day)
}

// KeyGiftOut and KeyGiftIn share the client gift id but are scoped to the
// sender so one sender cannot collide with another.
func KeyGiftOut(senderID, giftID string) string {
	return join("gift", senderID, giftID, "out")
}

func KeyGiftIn(senderID, giftID string) string {
	return join("gift", senderID, giftID, "in")
}

func join(parts ...string) string {
	return strings.Join(parts, ":")
}
