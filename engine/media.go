package engine

// MediaType tags the raw external input kinds a host can supply for a turn.
type MediaType string

const (
	// MediaCallPrompt is a caller utterance captured after a prompt.
	MediaCallPrompt MediaType = "callPrompt"
	// MediaMakeCall is the disposition code of an initiated call.
	MediaMakeCall MediaType = "makeCall"
	// MediaNone is the silent sentinel used when a step is advanced without
	// interactive input.
	MediaNone MediaType = "noMediaOutput"
)

// MediaOutput is the host-supplied result of the previous instruction and
// the engine's only channel for external interactive input.
type MediaOutput struct {
	Type       MediaType `json:"type"`
	Utterance  string    `json:"utterance,omitempty"`
	IsReprompt bool      `json:"isReprompt,omitempty"`
	Result     string    `json:"result,omitempty"`
}

// NoMedia returns the silent sentinel.
func NoMedia() *MediaOutput {
	return &MediaOutput{Type: MediaNone}
}
