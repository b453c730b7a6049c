package qnn

// ConfigList collects runtime configuration options of type T together with the custom
// payloads of type C they point at, so both stay alive until the runtime call returns.
type ConfigList[T any, C any] struct {
	options []*T
	customs []*C
}

// NewConfigList returns an empty list.
func NewConfigList[T any, C any]() *ConfigList[T, C] {
	return &ConfigList[T, C]{}
}

// Custom stores a custom payload and returns the pointer an option should reference.
func (l *ConfigList[T, C]) Custom(c C) *C {
	p := &c
	l.customs = append(l.customs, p)
	return p
}

// Add appends one option.
func (l *ConfigList[T, C]) Add(option T) *ConfigList[T, C] {
	l.options = append(l.options, &option)
	return l
}

// Len returns the number of options, not counting the sentinel.
func (l *ConfigList[T, C]) Len() int { return len(l.options) }

// Pointers returns the option pointers followed by the nil sentinel the runtime expects.
// An empty list yields a single nil.
func (l *ConfigList[T, C]) Pointers() []*T {
	out := make([]*T, 0, len(l.options)+1)
	out = append(out, l.options...)
	return append(out, nil)
}
