package scoredto

// StartSessionResponse is returned by POST /api/start-session. StartTime is unix milliseconds.
type StartSessionResponse struct {
	SessionToken string `json:"sessionToken"`
	StartTime    int64  `json:"startTime"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Scores   int    `json:"scores"`
}
