package hotkey

import "context"

// EventCorrectClipboardText is the host event carrying captured clipboard
// text.
const EventCorrectClipboardText = "correct-clipboard-text"

// Sound names accepted by [Host.PlaySoundInApp].
type Sound string

const (
	SoundProcessing Sound = "processing"
	SoundCompleted  Sound = "completed"
)

// Delivery is the payload of [Host.HandleCorrectedText].
type Delivery struct {
	Text       string `json:"text"`
	Model      string `json:"model"`
	DurationMs int64  `json:"duration"`
	AutoPaste  bool   `json:"autoPaste"`
}

// Host is the native process that owns the global shortcut, the clipboard,
// notifications and sounds. Events flow in through [Host.Captures]; every
// other method is an outbound command.
type Host interface {
	// Captures returns the inbound channel of captured texts. The channel is
	// closed when the host goes away or ctx ends.
	Captures(ctx context.Context) (<-chan string, error)

	SetSoundEnabled(ctx context.Context, enabled bool) error
	SetAutoPasteEnabled(ctx context.Context, enabled bool) error
	UpdateShortcut(ctx context.Context, key, modifier string) error

	// HandleCorrectedText hands a finished correction to the host, which
	// notifies the user and pastes when d.AutoPaste is set.
	HandleCorrectedText(ctx context.Context, d Delivery) error

	PlaySoundInApp(ctx context.Context, s Sound) error
	Notify(ctx context.Context, title, body string) error
}
