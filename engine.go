package shuttle

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/input-output-hk/catalyst-forge-libs/fs"
	"github.com/input-output-hk/catalyst-forge-libs/fs/billy"

	"github.com/s3shuttle/shuttle/errors"
	"github.com/s3shuttle/shuttle/internal/conflict"
	"github.com/s3shuttle/shuttle/internal/pool"
	"github.com/s3shuttle/shuttle/internal/retry"
	"github.com/s3shuttle/shuttle/internal/scheduler"
	"github.com/s3shuttle/shuttle/internal/store"
	"github.com/s3shuttle/shuttle/shuttletypes"
)

// Engine is the transfer engine facade: it owns the store client, the
// worker pool and the retry policy, and turns submitted requests into
// scheduled transfer jobs.
type Engine struct {
	cfg      shuttletypes.EngineConfig
	store    store.Store
	sched    *scheduler.Scheduler
	governor retry.Governor
	fs       fs.Filesystem
	logger   *slog.Logger
}

// New creates a transfer engine with the provided options. Credentials
// come from the static key pair when configured, otherwise from the
// default AWS credential chain.
//
// Example:
//
//	eng, err := shuttle.New(
//	    shuttle.WithBucket("my-volume"),
//	    shuttle.WithEndpoint("https://s3api-eu-ro-1.runpod.io"),
//	    shuttle.WithForcePathStyle(true),
//	)
func New(opts ...shuttletypes.Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	applyConfigDefaults(&cfg)

	if cfg.Bucket == "" {
		return nil, errors.NewError("engine initialization", errors.ErrConfig).
			WithMessage("bucket is required")
	}

	awsCfg, err := loadAWSConfig(cfg)
	if err != nil {
		return nil, errors.NewError("engine initialization", err)
	}

	client := s3.NewFromConfig(awsCfg, s3ClientOptions(cfg)...)

	st, err := store.New(client, cfg.Bucket)
	if err != nil {
		return nil, err
	}

	return newEngine(cfg, st), nil
}

// NewWithStore creates an engine over a pre-built store. This is
// primarily used for testing with fakes.
func NewWithStore(st store.Store, opts ...shuttletypes.Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	applyConfigDefaults(&cfg)
	return newEngine(cfg, st)
}

func newEngine(cfg shuttletypes.EngineConfig, st store.Store) *Engine {
	governor := retry.New(cfg.MaxAttempts, cfg.RetryBaseDelay, cfg.RetryMaxDelay)

	rt := scheduler.Runtime{
		Store:    st,
		Governor: governor,
		FS:       cfg.Filesystem,
		Buffers:  pool.NewPartBufferPool(cfg.PartSize),
		Logger:   cfg.Logger,
		Limits:   limitsFrom(cfg),
		PartSize: cfg.PartSize,
	}

	return &Engine{
		cfg:      cfg,
		store:    st,
		sched:    scheduler.New(rt, cfg.MaxConcurrency, cfg.ProgressTracker),
		governor: governor,
		fs:       cfg.Filesystem,
		logger:   cfg.Logger,
	}
}

func defaultConfig() shuttletypes.EngineConfig {
	return shuttletypes.EngineConfig{
		PartSize:       shuttletypes.DefaultPartSize,
		MaxConcurrency: shuttletypes.DefaultMaxConcurrency,
		MaxAttempts:    shuttletypes.DefaultMaxAttempts,
		RetryBaseDelay: shuttletypes.DefaultRetryBaseDelay,
		RetryMaxDelay:  shuttletypes.DefaultRetryMaxDelay,
		ConnectTimeout: shuttletypes.DefaultConnectTimeout,
		ReadTimeout:    shuttletypes.DefaultReadTimeout,
	}
}

// applyConfigDefaults fills in the fields whose defaults depend on
// other configured values.
func applyConfigDefaults(cfg *shuttletypes.EngineConfig) {
	if cfg.SinglePartThreshold <= 0 {
		cfg.SinglePartThreshold = cfg.PartSize
	}
	if cfg.Filesystem == nil {
		cfg.Filesystem = billy.NewOSFS("/")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

func limitsFrom(cfg shuttletypes.EngineConfig) shuttletypes.Limits {
	limits := shuttletypes.DefaultLimits(cfg.PartSize)
	limits.SinglePartThreshold = cfg.SinglePartThreshold
	return limits
}

// loadAWSConfig builds the SDK configuration: custom config when
// supplied, otherwise the default chain plus any static overrides.
func loadAWSConfig(cfg shuttletypes.EngineConfig) (aws.Config, error) {
	if cfg.CustomAWSConfig != nil {
		awsCfg := *cfg.CustomAWSConfig
		if cfg.Region != "" {
			awsCfg.Region = cfg.Region
		}
		return awsCfg, nil
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return aws.Config{}, err
	}
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}
	return awsCfg, nil
}

// s3ClientOptions translates engine tunables into SDK client options:
// endpoint, addressing style and the two-level timeout HTTP client.
func s3ClientOptions(cfg shuttletypes.EngineConfig) []func(*s3.Options) {
	var opts []func(*s3.Options)

	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		opts = append(opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	httpClient := &http.Client{
		// The overall timeout covers the whole exchange; a large part
		// legitimately takes a while, so this stays generous.
		Timeout: cfg.ReadTimeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: cfg.ConnectTimeout,
			ForceAttemptHTTP2:   true,
		},
	}
	opts = append(opts, func(o *s3.Options) {
		o.HTTPClient = httpClient
	})

	return opts
}

// BatchHandle tracks one submitted batch: progress, waiting and
// cooperative cancellation.
type BatchHandle struct {
	batch *scheduler.Batch
}

// Wait blocks until every request in the batch settled or ctx expires.
func (h *BatchHandle) Wait(ctx context.Context) (shuttletypes.BatchResult, error) {
	return h.batch.Wait(ctx)
}

// Done returns a channel closed when the batch has settled.
func (h *BatchHandle) Done() <-chan struct{} { return h.batch.Done() }

// Progress returns a point-in-time progress snapshot.
func (h *BatchHandle) Progress() shuttletypes.BatchProgress { return h.batch.Progress() }

// Cancel cooperatively cancels all still-running jobs in the batch.
func (h *BatchHandle) Cancel() { h.batch.Cancel() }

// CancelJob cancels one job by its request ID.
func (h *BatchHandle) CancelJob(id string) bool { return h.batch.CancelJob(id) }

// SubmitBatch resolves conflicts against the supplied destination
// listing and schedules the surviving requests. It returns immediately;
// the handle reports progress and the final per-request outcomes.
//
// existing is a snapshot of names already present at the destination
// (object keys for uploads, local paths for downloads), taken by the
// caller before prompting for conflict choices. Requests whose choice
// is skip, or whose conflict cannot be resolved, settle immediately and
// never reach the worker pool; the rest become transfer jobs. A failure
// of one request never fails the others.
func (e *Engine) SubmitBatch(
	ctx context.Context,
	reqs []shuttletypes.TransferRequest,
	existing []string,
) (*BatchHandle, error) {
	if len(reqs) == 0 {
		return nil, errors.NewError("submitBatch", errors.ErrInvalidInput).
			WithMessage("no requests")
	}

	snap := conflict.NewSnapshot(existing)

	jobs := make([]*scheduler.Job, 0, len(reqs))
	pre := make(map[string]shuttletypes.Outcome)

	for _, req := range reqs {
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		if err := e.prepareRequest(ctx, &req); err != nil {
			pre[req.ID] = shuttletypes.Outcome{
				Request: req,
				Status:  shuttletypes.OutcomeFailed,
				Key:     req.DestinationKey(),
				Err:     err,
			}
			continue
		}

		action, err := conflict.Resolve(req.DestinationKey(), snap, req.Choice)
		if err != nil {
			pre[req.ID] = shuttletypes.Outcome{
				Request: req,
				Status:  shuttletypes.OutcomeFailed,
				Key:     req.DestinationKey(),
				Err:     err,
			}
			continue
		}
		if action.Kind == shuttletypes.ActionSkip {
			pre[req.ID] = shuttletypes.Outcome{
				Request: req,
				Status:  shuttletypes.OutcomeSkipped,
				Key:     action.Key,
			}
			continue
		}

		jobs = append(jobs, scheduler.NewJob(req.ID, req, action.Key))
	}

	e.logger.Debug("batch submitted",
		"requests", len(reqs),
		"scheduled", len(jobs),
		"settled", len(pre),
	)

	batch, err := e.sched.Submit(ctx, jobs, pre)
	if err != nil {
		return nil, err
	}
	return &BatchHandle{batch: batch}, nil
}

// prepareRequest fills in the request's size: uploads stat the local
// source, downloads head the remote object when the caller did not
// carry a size over from a listing.
func (e *Engine) prepareRequest(ctx context.Context, req *shuttletypes.TransferRequest) error {
	if req.Direction == shuttletypes.DirectionUpload {
		info, err := e.fs.Stat(req.LocalPath)
		if err != nil {
			return errors.NewError("statSource", err).WithKey(req.LocalPath)
		}
		if info.IsDir() {
			return errors.NewError("statSource", errors.ErrInvalidInput).
				WithKey(req.LocalPath).
				WithMessage("source is a directory")
		}
		req.Size = info.Size()
		return nil
	}

	if req.Size > 0 {
		return nil
	}
	var head store.HeadInfo
	_, err := e.governor.Do(ctx, func(ctx context.Context) error {
		h, herr := e.store.HeadObject(ctx, req.RemoteKey)
		if herr != nil {
			return herr
		}
		head = h
		return nil
	})
	if err != nil {
		return err
	}
	if !head.Exists {
		return errors.NewError("headSource", errors.ErrObjectNotFound).WithKey(req.RemoteKey)
	}
	req.Size = head.Size
	return nil
}

// Close stops accepting new batches and waits for in-flight batches to
// drain, bounded by ctx.
func (e *Engine) Close(ctx context.Context) error {
	return e.sched.Close(ctx)
}
