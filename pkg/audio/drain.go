package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a streaming channel (such as the
// partial transcripts of an STT session) is no longer needed.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
