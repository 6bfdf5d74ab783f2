package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it to release a producer blocked on a channel whose data is no longer
// needed, e.g. the frame channel of a closed [Capturer].
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
