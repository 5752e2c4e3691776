package dedupe

// Option configures the in-memory deduper.
type Option func(*ringDeduper)

// WithMaxSize bounds how many keys are remembered. Once full, the oldest key
// is forgotten first. maxSize <= 0 keeps every key.
func WithMaxSize(maxSize int) Option {
	return func(d *ringDeduper) {
		d.maxSize = maxSize
	}
}
