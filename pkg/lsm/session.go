package lsm

import "github.com/google/uuid"

// workerSession is a worker-owned resource: a private, identifiable lease
// on the schema service, acquired when a background worker starts and
// released at join (spec.md §9 "worker thread sessions" design note). The
// UUID gives each session a stable identity in logs independent of the
// worker goroutine's lifetime, useful when correlating merge/checkpoint
// log lines across restarts of the same worker loop.
type workerSession struct {
	id uuid.UUID
}

func newWorkerSession() *workerSession {
	return &workerSession{id: uuid.New()}
}

func (s *workerSession) String() string {
	return s.id.String()
}
