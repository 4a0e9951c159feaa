package shuttle

import (
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/input-output-hk/catalyst-forge-libs/fs"

	"github.com/s3shuttle/shuttle/shuttletypes"
)

// WithBucket sets the bucket (or volume ID) all transfers target.
// Required.
func WithBucket(bucket string) shuttletypes.Option {
	return func(c *shuttletypes.EngineConfig) {
		c.Bucket = bucket
	}
}

// WithRegion sets the region for S3 operations.
// If not specified, uses the default region from the credential chain.
func WithRegion(region string) shuttletypes.Option {
	return func(c *shuttletypes.EngineConfig) {
		c.Region = region
	}
}

// WithEndpoint sets a custom S3 endpoint URL.
// This is useful for S3-compatible services or local testing with LocalStack.
func WithEndpoint(endpoint string) shuttletypes.Option {
	return func(c *shuttletypes.EngineConfig) {
		c.Endpoint = endpoint
	}
}

// WithStaticCredentials sets a static access key pair. When unset the
// default AWS credential chain is used.
func WithStaticCredentials(accessKey, secretKey string) shuttletypes.Option {
	return func(c *shuttletypes.EngineConfig) {
		c.AccessKey = accessKey
		c.SecretKey = secretKey
	}
}

// WithForcePathStyle forces path-style URLs instead of virtual-hosted style.
// Required for S3-compatible services that don't support virtual hosting.
func WithForcePathStyle(forcePathStyle bool) shuttletypes.Option {
	return func(c *shuttletypes.EngineConfig) {
		c.ForcePathStyle = forcePathStyle
	}
}

// WithPartSize sets the multipart part size in bytes. Values are
// clamped into the store's allowed part size range at planning time.
func WithPartSize(partSize int64) shuttletypes.Option {
	return func(c *shuttletypes.EngineConfig) {
		if partSize > 0 {
			c.PartSize = partSize
		}
	}
}

// WithSinglePartThreshold sets the size at or below which files are
// transferred as a single object instead of multipart. Defaults to the
// part size.
func WithSinglePartThreshold(threshold int64) shuttletypes.Option {
	return func(c *shuttletypes.EngineConfig) {
		if threshold > 0 {
			c.SinglePartThreshold = threshold
		}
	}
}

// WithMaxConcurrency bounds the number of part transfers in flight
// across all jobs.
func WithMaxConcurrency(n int) shuttletypes.Option {
	return func(c *shuttletypes.EngineConfig) {
		if n > 0 {
			c.MaxConcurrency = n
		}
	}
}

// WithMaxAttempts sets the per-operation attempt budget, including the
// first try.
func WithMaxAttempts(n int) shuttletypes.Option {
	return func(c *shuttletypes.EngineConfig) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithRetryDelays sets the backoff schedule between retries: the
// initial delay and the cap it grows toward.
func WithRetryDelays(base, max time.Duration) shuttletypes.Option {
	return func(c *shuttletypes.EngineConfig) {
		if base > 0 {
			c.RetryBaseDelay = base
		}
		if max > 0 {
			c.RetryMaxDelay = max
		}
	}
}

// WithConnectTimeout bounds connection establishment to the endpoint.
func WithConnectTimeout(d time.Duration) shuttletypes.Option {
	return func(c *shuttletypes.EngineConfig) {
		if d > 0 {
			c.ConnectTimeout = d
		}
	}
}

// WithReadTimeout bounds a whole request/response exchange. Keep it
// generous: a single large part can legitimately take a long time.
func WithReadTimeout(d time.Duration) shuttletypes.Option {
	return func(c *shuttletypes.EngineConfig) {
		if d > 0 {
			c.ReadTimeout = d
		}
	}
}

// WithAWSConfig allows providing a custom AWS configuration.
// This overrides the default configuration loading behavior.
func WithAWSConfig(config *aws.Config) shuttletypes.Option {
	return func(c *shuttletypes.EngineConfig) {
		c.CustomAWSConfig = config
	}
}

// WithFilesystem sets a custom filesystem implementation for local
// file access. This allows using in-memory filesystems for testing.
// If not specified, defaults to the OS filesystem.
func WithFilesystem(filesystem fs.Filesystem) shuttletypes.Option {
	return func(c *shuttletypes.EngineConfig) {
		c.Filesystem = filesystem
	}
}

// WithLogger sets the logger for engine lifecycle logging.
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) shuttletypes.Option {
	return func(c *shuttletypes.EngineConfig) {
		c.Logger = logger
	}
}

// WithProgress sets a progress tracker observing aggregate batch
// progress.
func WithProgress(tracker shuttletypes.ProgressTracker) shuttletypes.Option {
	return func(c *shuttletypes.EngineConfig) {
		c.ProgressTracker = tracker
	}
}
