package presence

import "context"

// LivenessOracle answers whether a physical connection is still attached to
// the gateway. The registry consults it around every registration to avoid
// leaving ghost members behind when a connection drops mid-flight; it never
// mutates anything through it.
type LivenessOracle interface {
	IsConnectionAlive(ctx context.Context, connectionId string) bool
}
