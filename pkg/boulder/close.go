package boulder

import "io"

// Close adapts a plain func() into an io.Closer, used to hand the caller of
// Get something to release the cursor backing the returned value.
type Close func()

var _ io.Closer = (*Close)(nil)

func (c Close) Close() error {
	c()
	return nil
}
