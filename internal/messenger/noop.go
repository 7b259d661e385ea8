package messenger

// Noop is the transport for the degenerate single-node federation
// (spec.md §8's n=1, m=1 boundary case): there are no peers to publish to
// or subscribe from, so every operation is a no-op.
type Noop struct{}

// NewNoop returns a Messenger with no backing transport.
func NewNoop() *Noop { return &Noop{} }

func (Noop) ProduceBlock(int64, string) error   { return nil }
func (Noop) ProduceSig(int64, string) error     { return nil }
func (Noop) ConsumeBlock(int64) (string, bool)  { return "", false }
func (Noop) ConsumeSigs(int64) []string         { return nil }
func (Noop) Reconnect()                         {}
func (Noop) Close() error                       { return nil }
