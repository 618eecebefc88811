package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfabric/fabricsync/pkg/manifest"
	"github.com/openfabric/fabricsync/pkg/stores"
	"github.com/openfabric/fabricsync/pkg/telemetry"
)

const (
	defaultAttemptTimeout = 60 * time.Second
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = 1 * time.Second
	defaultMaxRetryDelay  = 30 * time.Second
)

// OrchestratorConfig assembles an Orchestrator.
type OrchestratorConfig struct {
	Store    InventoryStore
	Repos    RepoClient
	Ingestor Ingestor

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer

	// AttemptTimeout bounds one full sync attempt including retries.
	AttemptTimeout time.Duration

	// MaxRetries is the number of additional checkout attempts after a
	// transient failure. Configuration, authentication and data errors are
	// never retried.
	MaxRetries int

	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration
}

// Orchestrator drives the sync lifecycle of a fabric: checkout, ingestion,
// reconciliation and status projection. At most one attempt runs per fabric
// at a time.
type Orchestrator struct {
	store    InventoryStore
	repos    RepoClient
	ingestor Ingestor
	locks    *lockRegistry
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer

	attemptTimeout time.Duration
	maxRetries     int
	retryBaseDelay time.Duration
	maxRetryDelay  time.Duration
}

// NewOrchestrator creates a sync orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Ingestor == nil {
		return nil, fmt.Errorf("ingestor is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}
	o := &Orchestrator{
		store:          cfg.Store,
		repos:          cfg.Repos,
		ingestor:       cfg.Ingestor,
		locks:          newLockRegistry(),
		logger:         logger.NewComponentLogger("orchestrator"),
		metrics:        cfg.Metrics,
		tracer:         cfg.Tracer,
		attemptTimeout: cfg.AttemptTimeout,
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
		maxRetryDelay:  cfg.MaxRetryDelay,
	}
	if o.attemptTimeout <= 0 {
		o.attemptTimeout = defaultAttemptTimeout
	}
	if o.maxRetries <= 0 {
		o.maxRetries = defaultMaxRetries
	}
	if o.retryBaseDelay <= 0 {
		o.retryBaseDelay = defaultRetryBaseDelay
	}
	if o.maxRetryDelay <= 0 {
		o.maxRetryDelay = defaultMaxRetryDelay
	}
	return o, nil
}

// InFlight reports whether a sync attempt currently holds the fabric lock.
func (o *Orchestrator) InFlight(fabricID string) bool {
	return o.locks.Held(fabricID)
}

// RunSync performs one sync attempt for the fabric. It returns a concurrency
// error immediately when an attempt is already in flight; it never queues.
// The trigger is recorded for observability ("scheduled", "manual", "watch").
func (o *Orchestrator) RunSync(ctx context.Context, fabricID, trigger string) (*SyncAttempt, error) {
	if !o.locks.TryAcquire(fabricID) {
		if o.metrics != nil {
			o.metrics.RecordSyncRejected(fabricID)
		}
		return nil, NewConcurrencyError("sync already in progress").WithFabric(fabricID)
	}
	defer o.locks.Release(fabricID)

	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.StartSyncSpan(ctx, fabricID)
		defer span.End()
	}

	log := o.logger.WithFabricID(fabricID).WithField("trigger", trigger)
	if o.metrics != nil {
		o.metrics.RecordSyncStarted(trigger)
	}

	attempt := &SyncAttempt{FabricID: fabricID, StartedAt: time.Now().UTC()}
	defer func() {
		attempt.CompletedAt = time.Now().UTC()
		attempt.Duration = attempt.CompletedAt.Sub(attempt.StartedAt)
		if o.metrics != nil {
			o.metrics.RecordSyncCompleted(string(attempt.Outcome), attempt.Duration)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, o.attemptTimeout)
	defer cancel()

	fabric, err := o.store.GetFabric(runCtx, fabricID)
	if err != nil {
		attempt.Outcome = OutcomeFailed
		attempt.Error = err.Error()
		return attempt, NewConfigurationError("fabric not found", err).WithFabric(fabricID)
	}

	if !fabric.RepoConfigured() && !fabric.ClusterConfigured() {
		if err := o.store.UpdateFabricStatus(runCtx, fabricID, stores.FabricStatusNotConfigured, nil); err != nil {
			log.WithError(err).Warn("status update failed")
		}
		attempt.Outcome = OutcomeSkipped
		attempt.Error = "fabric is not configured"
		log.Info("sync skipped, fabric is not configured")
		return attempt, nil
	}

	if err := o.store.UpdateFabricStatus(runCtx, fabricID, stores.FabricStatusSyncing, nil); err != nil {
		attempt.Outcome = OutcomeFailed
		attempt.Error = err.Error()
		return attempt, err
	}

	if fabric.RepoConfigured() {
		if err := o.syncRepo(runCtx, fabric, attempt, log); err != nil {
			o.failAttempt(ctx, fabric, attempt, err, log)
			return attempt, err
		}
	}

	if err := o.projectStatus(runCtx, fabric, attempt); err != nil {
		o.failAttempt(ctx, fabric, attempt, err, log)
		return attempt, err
	}

	attempt.Outcome = OutcomeSucceeded
	log.WithRevision(attempt.Revision).Infof(
		"sync complete: %d created, %d updated, %d orphaned, %d tracked, %d quarantined",
		attempt.Created, attempt.Updated, attempt.Orphaned, attempt.Tracked, attempt.Quarantined)
	return attempt, nil
}

// syncRepo runs the repository half of an attempt: checkout, staging,
// ingestion and reconciliation. A failure before reconciliation leaves the
// resource inventory untouched.
func (o *Orchestrator) syncRepo(ctx context.Context, fabric *stores.Fabric, attempt *SyncAttempt, log *telemetry.Logger) error {
	checkout, err := o.checkoutWithRetry(ctx, fabric)
	if err != nil {
		return err
	}
	defer checkout.Close()

	attempt.Revision = checkout.Revision()
	log.WithRevision(attempt.Revision).Debug("checkout complete")

	files, err := checkout.ListManifests(fabric.RepoSubdir)
	if err != nil {
		return err
	}

	if _, err := o.ingestor.Stage(ctx, fabric, checkout.Root(), files); err != nil {
		return NewDataError("staging manifests failed", err).WithFabric(fabric.ID)
	}

	result, err := o.ingestor.Run(ctx, fabric)
	if err != nil {
		return NewDataError("ingestion failed", err).WithFabric(fabric.ID)
	}
	attempt.Tracked = result.Tracked
	attempt.Quarantined = result.Quarantined
	if len(result.Errors) > 0 {
		return NewDataError(
			fmt.Sprintf("ingestion left %d files unprocessed", len(result.Errors)),
			result.Errors[0],
		).WithFabric(fabric.ID)
	}

	set, err := o.ingestor.ParseTracked(ctx, fabric)
	if err != nil {
		return NewDataError("parsing tracked manifests failed", err).WithFabric(fabric.ID)
	}

	desired, err := buildDesired(fabric.ID, set.Recognized())
	if err != nil {
		return err
	}

	stats, err := o.store.ReconcileFabricResources(ctx, fabric.ID, desired)
	if err != nil {
		return err
	}
	attempt.Created = stats.Created
	attempt.Updated = stats.Updated
	attempt.Orphaned = stats.Orphaned
	return nil
}

// projectStatus recomputes the fabric status from the reconciled inventory
// and persists the attempt result.
func (o *Orchestrator) projectStatus(ctx context.Context, fabric *stores.Fabric, attempt *SyncAttempt) error {
	resources, err := o.store.ListManagedResources(ctx, fabric.ID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if fabric.RepoConfigured() {
		fabric.LastRepoSyncAt = &now
	}

	input := BuildStatusInput(fabric, resources, false, false)
	status := CalculateFabricStatus(input)

	if fabric.RepoConfigured() {
		err = o.store.UpdateFabricSyncResult(ctx, fabric.ID, status, nil, attempt.Revision, &now)
	} else {
		err = o.store.UpdateFabricStatus(ctx, fabric.ID, status, nil)
	}
	if err != nil {
		return err
	}

	o.updateResourceMetrics(fabric.ID, resources, status)
	return nil
}

// failAttempt records a failed attempt. The parent context is used so the
// error status still lands when the attempt deadline has expired.
func (o *Orchestrator) failAttempt(parent context.Context, fabric *stores.Fabric, attempt *SyncAttempt, cause error, log *telemetry.Logger) {
	attempt.Outcome = OutcomeFailed
	attempt.Error = cause.Error()

	if o.metrics != nil {
		var syncErr *SyncError
		if errors.As(cause, &syncErr) {
			o.metrics.RecordError(string(syncErr.Class), syncErr.Code)
		}
	}

	msg := cause.Error()
	ctx := context.WithoutCancel(parent)
	if err := o.store.UpdateFabricStatus(ctx, fabric.ID, stores.FabricStatusError, &msg); err != nil {
		log.WithError(err).Error("error status not persisted")
	}
	log.WithError(cause).Error("sync failed")
}

// checkoutWithRetry clones the fabric repository, retrying transient
// failures with exponential backoff. Authentication and configuration
// failures abort on first sight.
func (o *Orchestrator) checkoutWithRetry(ctx context.Context, fabric *stores.Fabric) (RepoCheckout, error) {
	if o.repos == nil {
		return nil, NewConfigurationError("no repository client available", nil).WithFabric(fabric.ID)
	}

	spec := CheckoutSpec{
		URL:              fabric.RepoURL,
		Ref:              fabric.RepoRef,
		Subdir:           fabric.RepoSubdir,
		CredentialHandle: fabric.RepoCredentialID,
	}

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		start := time.Now()
		checkout, err := o.repos.CheckoutRef(ctx, spec)
		if err == nil {
			if o.metrics != nil {
				o.metrics.RecordCheckout("ok", time.Since(start))
			}
			return checkout, nil
		}
		if o.metrics != nil {
			o.metrics.RecordCheckout("error", time.Since(start))
		}
		lastErr = err

		if !IsRetryable(err) || attempt == o.maxRetries {
			break
		}

		delay := o.backoffDelay(attempt)
		o.logger.WithFabricID(fabric.ID).WithError(err).
			Warnf("checkout failed, retrying in %s (attempt %d/%d)", delay, attempt+1, o.maxRetries)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// backoffDelay computes exponential backoff with jitter, capped at the
// configured maximum.
func (o *Orchestrator) backoffDelay(attempt int) time.Duration {
	delay := time.Duration(float64(o.retryBaseDelay) * math.Pow(2, float64(attempt)))
	if delay > o.maxRetryDelay {
		delay = o.maxRetryDelay
	}
	jitter := time.Duration(rand.Int64N(int64(delay)/4 + 1))
	return delay + jitter
}

func (o *Orchestrator) updateResourceMetrics(fabricID string, resources []*stores.ManagedResource, status stores.FabricSyncStatus) {
	if o.metrics == nil {
		return
	}

	counts := map[stores.ResourceSyncState]int{}
	for _, res := range resources {
		counts[res.State]++
	}
	for _, state := range []stores.ResourceSyncState{
		stores.ResourceStateDraft,
		stores.ResourceStateCommitted,
		stores.ResourceStateDrifted,
		stores.ResourceStateOrphaned,
	} {
		o.metrics.SetResourceStateCount(fabricID, string(state), float64(counts[state]))
	}

	o.metrics.SetFabricStatus(fabricID, string(status), []string{
		string(stores.FabricStatusNotConfigured),
		string(stores.FabricStatusPending),
		string(stores.FabricStatusSyncing),
		string(stores.FabricStatusSynced),
		string(stores.FabricStatusDrifted),
		string(stores.FabricStatusError),
	})
}

// buildDesired converts recognized documents into the desired resource set.
// When a file declares the same identity twice the later document wins.
func buildDesired(fabricID string, docs []*manifest.Document) ([]*stores.ManagedResource, error) {
	now := time.Now().UTC()
	byKey := make(map[stores.ResourceKey]int, len(docs))
	var desired []*stores.ManagedResource

	for _, doc := range docs {
		hash, err := SpecHash(doc.Spec)
		if err != nil {
			return nil, NewDataError("spec not canonicalisable", err).
				WithResource(doc.Metadata.Name)
		}

		spec := doc.Spec
		if spec == nil {
			spec = map[string]any{}
		}
		specJSON, err := json.Marshal(spec)
		if err != nil {
			return nil, NewDataError("spec not serialisable", err).
				WithResource(doc.Metadata.Name)
		}
		labelsJSON, err := marshalStringMap(doc.Metadata.Labels)
		if err != nil {
			return nil, err
		}
		annotationsJSON, err := marshalStringMap(doc.Metadata.Annotations)
		if err != nil {
			return nil, err
		}

		res := &stores.ManagedResource{
			ID:           uuid.NewString(),
			FabricID:     fabricID,
			Kind:         doc.Kind,
			Namespace:    doc.Metadata.Namespace,
			Name:         doc.Metadata.Name,
			Spec:         string(specJSON),
			Labels:       labelsJSON,
			Annotations:  annotationsJSON,
			SpecHash:     hash,
			State:        stores.ResourceStateDraft,
			LastSyncedAt: &now,
			AutoSync:     true,
		}

		key := res.Key()
		if i, ok := byKey[key]; ok {
			desired[i] = res
			continue
		}
		byKey[key] = len(desired)
		desired = append(desired, res)
	}
	return desired, nil
}

func marshalStringMap(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", NewDataError("metadata not serialisable", err)
	}
	return string(data), nil
}
