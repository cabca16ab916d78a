// Package tasks runs the pipeline's remote operations off the request
// path: repository reconciliation, pushes, and detection submission.
// The request path only enqueues; retries happen here under explicit
// policies.
package tasks

import (
	"context"

	"github.com/google/uuid"
	"github.com/houston-cloud/houston/internal/detection"
	"github.com/houston-cloud/houston/internal/fault"
	"github.com/houston-cloud/houston/internal/gitstore"
	"github.com/houston-cloud/houston/internal/models"
	"github.com/houston-cloud/houston/internal/retry"
	"github.com/houston-cloud/houston/internal/worker"
	"github.com/houston-cloud/houston/pkg/log"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type Queue struct {
	pool            *worker.Pool
	db              *gorm.DB
	store           *gitstore.Store
	dispatcher      *detection.Dispatcher
	repoPolicy      retry.Policy
	detectionPolicy retry.Policy
}

// Config assembles a task queue.
type Config struct {
	PoolSize        int
	DB              *gorm.DB
	Store           *gitstore.Store
	Dispatcher      *detection.Dispatcher
	RepoPolicy      retry.Policy
	DetectionPolicy retry.Policy
}

// New builds a queue from cfg, defaulting the retryable predicates to
// the transient-fault check.
func New(cfg Config) *Queue {
	if cfg.RepoPolicy.Retryable == nil {
		cfg.RepoPolicy.Retryable = fault.IsTransient
	}
	if cfg.DetectionPolicy.Retryable == nil {
		cfg.DetectionPolicy.Retryable = fault.IsTransient
	}

	return &Queue{
		pool:            worker.NewPool(cfg.PoolSize),
		db:              cfg.DB,
		store:           cfg.Store,
		dispatcher:      cfg.Dispatcher,
		repoPolicy:      cfg.RepoPolicy,
		detectionPolicy: cfg.DetectionPolicy,
	}
}

var defaultQueue *Queue

// SetDefault installs the process-wide queue at startup.
func SetDefault(q *Queue) {
	defaultQueue = q
}

// Default returns the process-wide queue.
func Default() *Queue {
	return defaultQueue
}

// Wait blocks until all submitted tasks finish (shutdown).
func (q *Queue) Wait() {
	q.pool.Wait()
}

func (q *Queue) submit(op string, policy retry.Policy, fn func(context.Context) error) {
	ctx := context.Background()
	if err := q.pool.Submit(ctx, func() {
		if err := policy.Do(ctx, op, fn); err != nil {
			log.Error("task failed", "op", op, "error", err)
		}
	}); err != nil {
		log.Error("task submission failed", "op", op, "error", err)
	}
}

func (q *Queue) loadAssetGroup(ctx context.Context, id uuid.UUID) (*models.AssetGroup, error) {
	group := &models.AssetGroup{}
	err := q.db.WithContext(ctx).First(group, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// the asset group no longer exists; nothing to reconcile
		return nil, nil
	}
	if err != nil {
		return nil, fault.NewTransient("load asset group", err)
	}
	return group, nil
}

// EnsureRemote reconciles the remote project for an asset group.
func (q *Queue) EnsureRemote(assetGroupID uuid.UUID, tags []string) {
	q.submit("ensure-remote", q.repoPolicy, func(ctx context.Context) error {
		group, err := q.loadAssetGroup(ctx, assetGroupID)
		if err != nil || group == nil {
			return err
		}
		return q.store.EnsureRemote(
			ctx, assetGroupID, string(group.MajorType), group.Description, tags)
	})
}

// GitPush uploads the asset group's local branch, ensuring a remote
// exists first.
func (q *Queue) GitPush(assetGroupID uuid.UUID) {
	q.submit("git-push", q.repoPolicy, func(ctx context.Context) error {
		group, err := q.loadAssetGroup(ctx, assetGroupID)
		if err != nil || group == nil {
			return err
		}
		return q.store.Push(
			ctx, assetGroupID, string(group.MajorType), group.Description)
	})
}

// DeleteRemote removes the remote project. With ignoreError set the
// operation is best-effort and exhausted retries are only logged at
// warn level.
func (q *Queue) DeleteRemote(assetGroupID uuid.UUID, ignoreError bool) {
	ctx := context.Background()
	if err := q.pool.Submit(ctx, func() {
		err := q.repoPolicy.Do(ctx, "delete-remote", func(ctx context.Context) error {
			return q.store.DeleteRemote(ctx, assetGroupID)
		})
		if err == nil {
			return
		}
		if ignoreError {
			log.Warn("best-effort remote deletion failed",
				"asset_group", assetGroupID, "error", err)
			return
		}
		log.Error("task failed", "op", "delete-remote", "error", err)
	}); err != nil {
		log.Error("task submission failed", "op", "delete-remote", "error", err)
	}
}

// SageDetection submits a recorded detection job to sage.
func (q *Queue) SageDetection(sightingID, jobID uuid.UUID) {
	q.submit("sage-detection", q.detectionPolicy, func(ctx context.Context) error {
		log.Debug("running sage detection",
			"sighting", sightingID, "job", jobID)
		return q.dispatcher.SendDetection(ctx, sightingID, jobID)
	})
}
