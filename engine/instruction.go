package engine

// InstructionType tags the directives a host can be handed after a turn.
type InstructionType string

const (
	InstructionCallPrompt   InstructionType = "callPrompt"
	InstructionInitiateCall InstructionType = "initiateCall"
	InstructionPlay         InstructionType = "play"
	InstructionRepeat       InstructionType = "repeat"
	InstructionSetData      InstructionType = "setData"
	InstructionRestCall     InstructionType = "restCall"
	InstructionEndCall      InstructionType = "endCall"
)

// AMHandling tells the host what to do when a call hits an answering machine.
type AMHandling string

const (
	AMHangup       AMHandling = "hangup"
	AMLeaveMessage AMHandling = "leave_message"
)

// Instruction is the outward directive rendered for a step. Only the fields
// matching Type are populated.
type Instruction struct {
	Type InstructionType `json:"type"`

	// callPrompt / repeat
	Prompt       string `json:"prompt,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	// play
	Play string `json:"play,omitempty"`

	// initiateCall
	To               string     `json:"to,omitempty"`
	From             string     `json:"from,omitempty"`
	Timeout          int        `json:"timeout,omitempty"`
	CallAnnouncement string     `json:"callAnnouncement,omitempty"`
	AMHandling       AMHandling `json:"amHandling,omitempty"`
}

// Silent reports whether the instruction belongs to a step the engine
// auto-advances past instead of surfacing to the host.
func (i Instruction) Silent() bool {
	return i.Type == InstructionSetData || i.Type == InstructionRestCall
}
