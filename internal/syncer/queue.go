package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tonimelisma/savesync/internal/cloud"
)

// ErrQueueClosed is returned when enqueueing after Close.
var ErrQueueClosed = errors.New("syncer: queue closed")

// JobKind distinguishes queued work.
type JobKind int

const (
	JobSync JobKind = iota
	JobUpload
)

func (k JobKind) String() string {
	if k == JobUpload {
		return "upload"
	}

	return "sync"
}

// Job is one unit of queued work.
type Job struct {
	Kind JobKind
	Role cloud.Role
	Name string // uploads only
}

// ResultFunc observes each finished job.
type ResultFunc func(job Job, rep *Report, err error)

// Queue runs sync and upload jobs one at a time on a single worker
// goroutine, in arrival order. Enqueueing never blocks on the worker.
//
// Pending work is coalesced: a sync replaces pending uploads of its role,
// a second sync of the same role is dropped, and an upload is dropped when
// the same file or a sync of its role is already pending.
type Queue struct {
	syncer   *Syncer
	onResult ResultFunc
	logger   *slog.Logger

	mu      sync.Mutex
	pending []Job
	closed  bool
	notify  chan struct{}
}

// NewQueue returns a queue feeding s. onResult may be nil.
func NewQueue(s *Syncer, onResult ResultFunc) *Queue {
	return &Queue{
		syncer:   s,
		onResult: onResult,
		logger:   s.logger,
		notify:   make(chan struct{}, 1),
	}
}

// Sync enqueues a sync of each role, or of every configured role when
// none are given.
func (q *Queue) Sync(roles ...cloud.Role) error {
	if len(roles) == 0 {
		roles = q.syncer.Roles()
	}

	for _, r := range roles {
		if _, err := q.syncer.Dir(r); err != nil {
			return err
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.acceptLocked(); err != nil {
		return err
	}

	covered := make(map[cloud.Role]bool, len(roles))
	for _, r := range roles {
		covered[r] = true
	}

	kept := q.pending[:0]
	for _, j := range q.pending {
		if j.Kind != JobUpload || !covered[j.Role] {
			kept = append(kept, j)
		}
	}

	q.pending = kept

	for _, r := range roles {
		if !q.hasSyncLocked(r) {
			q.pending = append(q.pending, Job{Kind: JobSync, Role: r})
		}
	}

	q.signal()

	return nil
}

// Upload enqueues an upload of name in role's directory.
func (q *Queue) Upload(role cloud.Role, name string) error {
	if _, err := q.syncer.Dir(role); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.acceptLocked(); err != nil {
		return err
	}

	if q.hasSyncLocked(role) {
		return nil
	}

	for _, j := range q.pending {
		if j.Kind == JobUpload && j.Role == role && j.Name == name {
			return nil
		}
	}

	q.pending = append(q.pending, Job{Kind: JobUpload, Role: role, Name: name})
	q.signal()

	return nil
}

// Pending returns a snapshot of queued jobs.
func (q *Queue) Pending() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]Job(nil), q.pending...)
}

// Close stops accepting jobs and makes Run return once the backlog drains.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		q.signal()
	}
}

// Run executes jobs until ctx is canceled or the queue is closed and
// empty.
func (q *Queue) Run(ctx context.Context) error {
	for {
		for {
			job, ok := q.pop()
			if !ok {
				break
			}

			q.exec(ctx, job)

			if ctx.Err() != nil {
				return nil
			}
		}

		q.mu.Lock()
		done := q.closed && len(q.pending) == 0
		q.mu.Unlock()

		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-q.notify:
		}
	}
}

func (q *Queue) exec(ctx context.Context, job Job) {
	var (
		rep *Report
		err error
	)

	switch job.Kind {
	case JobSync:
		rep, err = q.syncer.SyncRole(ctx, job.Role)
	case JobUpload:
		rep, err = q.syncer.UploadFile(ctx, job.Role, job.Name)
	}

	if err != nil {
		q.logger.Warn("queued job failed",
			slog.String("job", job.Kind.String()),
			slog.String("role", string(job.Role)),
			slog.String("name", job.Name),
			slog.String("error", err.Error()),
		)
	}

	if q.onResult != nil {
		q.onResult(job, rep, err)
	}
}

func (q *Queue) pop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Job{}, false
	}

	job := q.pending[0]
	q.pending = q.pending[1:]

	return job, true
}

func (q *Queue) acceptLocked() error {
	if q.closed {
		return ErrQueueClosed
	}

	if !q.syncer.provider.ReadyForRequest() {
		return fmt.Errorf("syncer: %s: %w", q.syncer.provider.Name(), cloud.ErrNotReady)
	}

	return nil
}

func (q *Queue) hasSyncLocked(role cloud.Role) bool {
	for _, j := range q.pending {
		if j.Kind == JobSync && j.Role == role {
			return true
		}
	}

	return false
}

// signal wakes the worker without blocking.
func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
