package domain

// Game and Message are owned by the external store; the core only forwards them.
type Game struct {
	ID       GameID `json:"id"`
	Name     string `json:"name"`
	Platform string `json:"platform,omitempty"`
}

type Message struct {
	ID        int64  `json:"id"`
	Body      string `json:"body"`
	UserID    UserID `json:"user_id"`
	TargetID  UserID `json:"target_id"`
	CreatedAt int64  `json:"created_at"`
}
