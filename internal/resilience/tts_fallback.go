package resilience

import (
	"context"

	"github.com/MrWong99/luna/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across several speech
// synthesis backends, each behind its own circuit breaker. Fallbacks receive
// the primary's voice ID unchanged; map it on their side (see
// coqui.WithVoiceMap).
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional TTS provider.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of every backend.
func (f *TTSFallback) Status() []BreakerStatus { return f.group.Status() }

// Synthesize renders req with the first healthy provider.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (*tts.Speech, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (*tts.Speech, error) {
		return p.Synthesize(ctx, req)
	})
}

// ListVoices returns the voices of the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
