package audio

// Drain discards everything left on ch until it is closed, letting the
// producer of an abandoned synthesis stream exit.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
