package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	// Redis key prefixes
	QueueKeyPrefix = "queue:"
	JobStatsKey    = "job_stats"
)

// ErrNoHandler is returned when a queue is consumed without a registered handler.
var ErrNoHandler = errors.New("no handler registered for job type")

// Handler processes one job. Returning an error leaves the job for redelivery.
type Handler func(ctx context.Context, job *Job) error

// BatchResult summarizes one consumer pass over a queue.
type BatchResult struct {
	Read      int `json:"read"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Archived  int `json:"archived"`
}

// readScript hands out up to ARGV[2] visible messages and hides them until ARGV[3].
// KEYS: visible zset, message hash, read counter hash.
const readScript = `
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local out = {}
for _, id in ipairs(ids) do
  redis.call('ZADD', KEYS[1], ARGV[3], id)
  local reads = redis.call('HINCRBY', KEYS[3], id, 1)
  local data = redis.call('HGET', KEYS[2], id)
  table.insert(out, id)
  table.insert(out, reads)
  table.insert(out, data or '')
end
return out
`

// Queue is an at-least-once job queue on Redis with visibility timeouts and
// an archive for jobs that keep failing.
type Queue struct {
	client   *redis.Client
	cfg      Config
	handlers map[JobType]Handler
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	now      func() time.Time
}

// NewQueue creates a new job queue
func NewQueue(client *redis.Client, cfg Config) *Queue {
	return &Queue{
		client:   client,
		cfg:      cfg.normalized(),
		handlers: make(map[JobType]Handler),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

func messagesKey(t JobType) string { return QueueKeyPrefix + string(t) + ":messages" }
func visibleKey(t JobType) string  { return QueueKeyPrefix + string(t) + ":visible" }
func readsKey(t JobType) string    { return QueueKeyPrefix + string(t) + ":reads" }
func archiveKey(t JobType) string  { return QueueKeyPrefix + string(t) + ":archive" }

func statsField(t JobType, s JobStatus) string { return string(t) + ":" + string(s) }

// Config returns the effective configuration.
func (q *Queue) Config() Config {
	return q.cfg
}

// Register installs the handler for a job type.
func (q *Queue) Register(t JobType, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[t] = h
}

func (q *Queue) handler(t JobType) Handler {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.handlers[t]
}

// Start starts one poller per registered job type
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}
	q.stopCh = make(chan struct{})
	q.running = true
	log.Infof("[JobQueue] Starting pollers for %d queues (workers=%d, batch=%d)", len(q.handlers), q.cfg.Workers, q.cfg.BatchSize)

	for t := range q.handlers {
		q.wg.Add(1)
		go q.poller(t)
	}
}

// Stop stops the pollers and waits for in-flight batches
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	log.Info("[JobQueue] Stopping pollers...")
	close(q.stopCh)
	q.running = false
	q.mu.Unlock()

	q.wg.Wait()
	log.Info("[JobQueue] All pollers stopped")
}

func (q *Queue) poller(t JobType) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			log.Infof("[JobQueue] Poller %s stopping", t)
			return
		case <-ticker.C:
			res, err := q.ProcessBatch(ctx, t, q.cfg.BatchSize)
			if err != nil {
				log.Errorf("[JobQueue] Poller %s: %v", t, err)
				continue
			}
			if res.Read > 0 {
				log.Debugf("[JobQueue] %s: read=%d completed=%d failed=%d archived=%d", t, res.Read, res.Completed, res.Failed, res.Archived)
			}
		}
	}
}

// EnqueueJob adds a new job to the queue
func (q *Queue) EnqueueJob(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	now := q.now()
	job := &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Status:    JobStatusPending,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, messagesKey(jobType), job.ID, jobData)
	pipe.ZAdd(ctx, visibleKey(jobType), redis.Z{Score: float64(now.UnixMilli()), Member: job.ID})
	pipe.HIncrBy(ctx, JobStatsKey, statsField(jobType, JobStatusPending), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Debugf("[JobQueue] Enqueued job %s (Type: %s)", job.ID, job.Type)
	return job, nil
}

// Read hands out up to n visible jobs and hides them for the visibility timeout.
func (q *Queue) Read(ctx context.Context, jobType JobType, n int) ([]*Job, error) {
	if n <= 0 {
		n = q.cfg.BatchSize
	}
	now := q.now()
	hideUntil := now.Add(q.cfg.VisibilityTimeout)

	raw, err := q.client.Eval(ctx, readScript,
		[]string{visibleKey(jobType), messagesKey(jobType), readsKey(jobType)},
		now.UnixMilli(), n, hideUntil.UnixMilli(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", jobType, err)
	}

	jobs := make([]*Job, 0, len(raw)/3)
	for i := 0; i+2 < len(raw); i += 3 {
		id := fmt.Sprint(raw[i])
		reads, _ := strconv.Atoi(fmt.Sprint(raw[i+1]))
		data := fmt.Sprint(raw[i+2])

		var job Job
		if data == "" || json.Unmarshal([]byte(data), &job) != nil {
			// Orphaned or corrupt entry; drop it so it does not circulate forever
			log.Errorf("[JobQueue] Dropping unreadable job %s from %s", id, jobType)
			_ = q.remove(ctx, jobType, id)
			continue
		}
		job.ReadCount = reads
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// Delete acknowledges a job.
func (q *Queue) Delete(ctx context.Context, job *Job) error {
	return q.remove(ctx, job.Type, job.ID)
}

func (q *Queue) remove(ctx context.Context, jobType JobType, id string) error {
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, messagesKey(jobType), id)
	pipe.ZRem(ctx, visibleKey(jobType), id)
	pipe.HDel(ctx, readsKey(jobType), id)
	_, err := pipe.Exec(ctx)
	return err
}

// Archive moves a job out of the queue into the capped archive list.
func (q *Queue) Archive(ctx context.Context, job *Job, reason string) error {
	job.MarkAsArchived()
	if reason != "" {
		job.ErrorMsg = reason
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, archiveKey(job.Type), data)
	pipe.LTrim(ctx, archiveKey(job.Type), 0, q.cfg.ArchiveLimit-1)
	pipe.HDel(ctx, messagesKey(job.Type), job.ID)
	pipe.ZRem(ctx, visibleKey(job.Type), job.ID)
	pipe.HDel(ctx, readsKey(job.Type), job.ID)
	pipe.HIncrBy(ctx, JobStatsKey, statsField(job.Type, JobStatusArchived), 1)
	_, err = pipe.Exec(ctx)
	return err
}

// ProcessBatch reads up to batchSize jobs and runs them with at most
// Workers handlers in parallel.
func (q *Queue) ProcessBatch(ctx context.Context, jobType JobType, batchSize int) (BatchResult, error) {
	h := q.handler(jobType)
	if h == nil {
		return BatchResult{}, fmt.Errorf("%w: %s", ErrNoHandler, jobType)
	}
	jobs, err := q.Read(ctx, jobType, batchSize)
	if err != nil {
		return BatchResult{}, err
	}

	res := BatchResult{Read: len(jobs)}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(q.cfg.Workers)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			status := q.processJob(ctx, h, job)
			mu.Lock()
			defer mu.Unlock()
			switch status {
			case JobStatusCompleted:
				res.Completed++
			case JobStatusArchived:
				res.Archived++
			default:
				res.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()
	return res, nil
}

// processJob processes a single job and returns its final status
func (q *Queue) processJob(ctx context.Context, h Handler, job *Job) JobStatus {
	if job.ReadCount > q.cfg.MaxReads {
		log.Warnf("[JobQueue] Job %s (Type: %s) read %d times, archiving", job.ID, job.Type, job.ReadCount)
		q.archiveOrLog(ctx, job, "max reads exceeded")
		return JobStatusArchived
	}

	job.MarkAsProcessing()
	if err := runHandler(ctx, h, job); err != nil {
		log.Errorf("[JobQueue] Job %s failed (read %d/%d): %v", job.ID, job.ReadCount, q.cfg.MaxReads, err)
		job.MarkAsFailed(err.Error())
		if !job.IsRetryable(q.cfg.MaxReads) {
			q.archiveOrLog(ctx, job, err.Error())
			return JobStatusArchived
		}
		q.updateJob(ctx, job)
		q.updateJobStats(ctx, job.Type, JobStatusFailed, 1)
		return JobStatusFailed
	}

	job.MarkAsCompleted()
	if err := q.Delete(ctx, job); err != nil {
		// Will be redelivered after the visibility timeout; handlers are idempotent
		log.Errorf("[JobQueue] Failed to delete completed job %s: %v", job.ID, err)
	}
	q.updateJobStats(ctx, job.Type, JobStatusCompleted, 1)
	return JobStatusCompleted
}

func runHandler(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (q *Queue) archiveOrLog(ctx context.Context, job *Job, reason string) {
	if err := q.Archive(ctx, job, reason); err != nil {
		log.Errorf("[JobQueue] Failed to archive job %s: %v", job.ID, err)
	}
}

// updateJob stores the job's last error alongside the message
func (q *Queue) updateJob(ctx context.Context, job *Job) {
	jobData, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}
	if err := q.client.HSet(ctx, messagesKey(job.Type), job.ID, jobData).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
	}
}

// updateJobStats updates job statistics
func (q *Queue) updateJobStats(ctx context.Context, t JobType, status JobStatus, delta int64) {
	if err := q.client.HIncrBy(ctx, JobStatsKey, statsField(t, status), delta).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job stats: %v", err)
	}
}

// GetJobStats returns counters keyed by "<type>:<status>"
func (q *Queue) GetJobStats(ctx context.Context) (map[string]int64, error) {
	stats, err := q.client.HGetAll(ctx, JobStatsKey).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[string]int64, len(stats))
	for field, count := range stats {
		if n, err := strconv.ParseInt(count, 10, 64); err == nil {
			result[field] = n
		}
	}
	return result, nil
}

// GetQueueSize returns the number of jobs in a queue, hidden ones included
func (q *Queue) GetQueueSize(ctx context.Context, t JobType) (int64, error) {
	return q.client.ZCard(ctx, visibleKey(t)).Result()
}

// GetArchiveSize returns the number of archived jobs of a queue
func (q *Queue) GetArchiveSize(ctx context.Context, t JobType) (int64, error) {
	return q.client.LLen(ctx, archiveKey(t)).Result()
}
