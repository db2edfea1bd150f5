package scoredto

// SubmitScoreRequest is the body of POST /api/submit-score. Pointer fields distinguish
// "absent" from a zero value.
type SubmitScoreRequest struct {
	SessionToken *string `json:"sessionToken"`
	PlayerName   *string `json:"playerName"`
	FinalTime    *Number `json:"finalTime"`
	MissCount    *Number `json:"missCount,omitempty"`
	Checkpoints  []any   `json:"checkpoints,omitempty"`
	Signature    *string `json:"signature"`
}

type SubmitScoreResponse struct {
	Success      bool `json:"success"`
	Rank         int  `json:"rank"`
	TotalPlayers int  `json:"totalPlayers"`
}

// LeaderboardRow is the public view of a ranked entry. Timestamp is unix milliseconds.
type LeaderboardRow struct {
	Rank       int    `json:"rank"`
	PlayerName string `json:"playerName"`
	FinalTime  int64  `json:"finalTime"`
	MissCount  int64  `json:"missCount"`
	Timestamp  int64  `json:"timestamp"`
}

// FeedEvent is pushed to live leaderboard subscribers.
type FeedEvent struct {
	Type string           `json:"type"`
	Rows []LeaderboardRow `json:"rows"`
}
