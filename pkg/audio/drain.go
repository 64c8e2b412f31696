package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it to release a producer goroutine when the data is no longer needed,
// e.g. the audio channel of a cancelled synthesis.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
