package models

// Profile is the read-mostly user record used to decorate message bubbles.
type Profile struct {
	ID                string   `json:"id"`
	DisplayName       string   `json:"display_name"`
	AvatarURL         string   `json:"avatar_url"`
	SpokenLanguages   []string `json:"spoken_languages"`
	LearningLanguages []string `json:"learning_languages"`

	// SpeakingSeconds accumulates the length of sent voice messages
	SpeakingSeconds float64 `json:"speaking_seconds"`

	// ListeningSeconds is an estimate of time spent listening
	ListeningSeconds float64 `json:"listening_seconds"`
}

// Name returns the display name, falling back to a placeholder.
func (p *Profile) Name() string {
	if p == nil || p.DisplayName == "" {
		return "Unknown"
	}
	return p.DisplayName
}
