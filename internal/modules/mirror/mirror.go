package mirror

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"

	gcs "cloud.google.com/go/storage"
	"github.com/eric2788/screenrec/internal/modules/config"
	"github.com/eric2788/screenrec/pkg/pool"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
)

var logger = logrus.WithField("module", "mirror")

var ErrDisabled = fmt.Errorf("object mirror is not configured")

// Mirror copies durable files to object storage.
type Mirror interface {
	Upload(ctx context.Context, localPath, objectName string) (string, error)
	Enabled() bool
}

// ObjectName is where a file of a session lands in the bucket.
func ObjectName(sessionID, localPath string) string {
	return path.Join("recordings", sessionID, filepath.Base(localPath))
}

type GCSMirror struct {
	client *gcs.Client
	bucket string
	bp     *pool.BytesPool
}

func provider(lc fx.Lifecycle, cfg *config.Config) Mirror {
	if cfg.GcsBucket == "" {
		logger.Info("GCS_BUCKET not set, object mirror disabled")
		return disabled{}
	}
	m := &GCSMirror{
		bucket: cfg.GcsBucket,
		bp:     pool.NewBytesPool(cfg.CopyBufferSize()),
	}
	lc.Append(fx.StartStopHook(
		func(ctx context.Context) error {
			client, err := gcs.NewClient(ctx)
			if err != nil {
				return fmt.Errorf("cannot create gcs client: %w", err)
			}
			m.client = client
			return nil
		},
		func() error {
			if m.client == nil {
				return nil
			}
			return m.client.Close()
		},
	))
	return m
}

// New creates a mirror outside of the fx lifecycle. Callers must Close it.
func New(ctx context.Context, bucket string) (*GCSMirror, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GCSMirror{client: client, bucket: bucket, bp: pool.NewBytesPool(256 * 1024)}, nil
}

func (m *GCSMirror) Enabled() bool { return true }

func (m *GCSMirror) Upload(ctx context.Context, localPath, objectName string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := m.client.Bucket(m.bucket).Object(objectName).NewWriter(ctx)
	if ct := mime.TypeByExtension(filepath.Ext(localPath)); ct != "" {
		w.ContentType = ct
	}

	buf := m.bp.GetBytes()
	defer m.bp.PutBytes(buf)

	n, err := io.CopyBuffer(w, f, buf)
	if err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	uri := fmt.Sprintf("gs://%s/%s", m.bucket, objectName)
	logger.Debugf("mirrored %s to %s (%d bytes)", localPath, uri, n)
	return uri, nil
}

func (m *GCSMirror) Close() error {
	return m.client.Close()
}

type disabled struct{}

func (disabled) Enabled() bool { return false }

func (disabled) Upload(ctx context.Context, localPath, objectName string) (string, error) {
	return "", ErrDisabled
}

var Module = fx.Module("mirror", fx.Provide(provider))
