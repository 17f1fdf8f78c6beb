package ui

import "io"

// Surface abstracts the console UI so main can route logs into it and manage
// its lifetime without knowing how it renders. Implementations must be safe
// for concurrent calls.
type Surface interface {
	WaitReady()
	Stop()
	Done() <-chan struct{}
	AppendSystem(line string)
	SystemWriter() io.Writer
}
