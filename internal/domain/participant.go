package domain

// Participant is one user currently joined to a voice room.
// The local user's own entry is included for UI consistency but
// never has a live peer connection behind it.
type Participant struct {
	UserID     UserID  `json:"user_id"`
	Username   string  `json:"username"`
	Avatar     string  `json:"avatar,omitempty"`
	Muted      bool    `json:"muted"`
	Deafened   bool    `json:"deafened"`
	Connected  bool    `json:"connected"`
	Speaking   bool    `json:"speaking"`
	AudioLevel float64 `json:"audio_level"`
	Quality    Quality `json:"quality"`
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(user *User) Participant {
	return Participant{
		UserID:   user.ID,
		Username: user.Username,
		Avatar:   user.Avatar,
		Quality:  QualityGood,
	}
}
