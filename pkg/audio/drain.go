package audio

// Drain reads from ch until it is closed and discards the values. Use it when
// a producer must be allowed to finish after its consumer stopped listening,
// such as the remaining chunks of a cancelled [Clip].
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
