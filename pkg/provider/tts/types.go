package tts

// Request is a single synthesis request.
type Request struct {
	// Text is the utterance to speak. Callers must not send blank text.
	Text string

	// VoiceID is the provider-specific voice identifier.
	VoiceID string
}

// Speech is the encoded audio returned by [Provider.Synthesize].
type Speech struct {
	// Audio holds the encoded audio bytes.
	Audio []byte

	// ContentType is the MIME type reported by the service (e.g., "audio/mpeg").
	ContentType string
}

// VoiceProfile describes a selectable synthesis voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string `json:"id" yaml:"id"`

	// Name is the human-readable voice name.
	Name string `json:"name" yaml:"name"`

	// Description is a short human-readable characterisation of the voice.
	Description string `json:"description,omitempty" yaml:"description"`

	// Provider identifies which TTS provider this voice belongs to.
	Provider string `json:"provider,omitempty" yaml:"provider"`

	// Metadata holds provider-specific voice attributes (gender, age, accent, etc.).
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata"`
}
