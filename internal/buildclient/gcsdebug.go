package buildclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/percyio/percy-core/internal/percy"
)

// gcsDebugClient decorates a Client, additionally persisting a JSON debug
// bundle of every snapshot's resource metadata (URL, mimetype, sha, root
// flag, widths) to a GCS bucket; resource bodies, including the DOM itself,
// are not part of the bundle. Mirrors the teacher's
// storage.GCSUploader almost line for line, adapted from generic
// UploadRequest/UploadResult to percy.Resource/Build. Enabled only when
// PERCY_DEBUG_BUCKET is configured; never affects the success/failure of the
// underlying API call.
type gcsDebugClient struct {
	Client
	bucketClient *storage.Client
	bucket       string
	log          zerolog.Logger
}

// NewGCSDebugClient wraps inner so that every CreateSnapshot call also
// uploads a debug bundle (resource metadata, root entry included, no
// bodies) to bucket.
func NewGCSDebugClient(ctx context.Context, inner Client, bucket string, log zerolog.Logger, opts ...option.ClientOption) (Client, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("buildclient: failed to create GCS debug client: %w", err)
	}
	return &gcsDebugClient{
		Client:       inner,
		bucketClient: client,
		bucket:       bucket,
		log:          log.With().Str("component", "buildclient.gcsdebug").Logger(),
	}, nil
}

type debugBundle struct {
	Name      string          `json:"name"`
	Widths    []int           `json:"widths"`
	Resources []debugResource `json:"resources"`
}

type debugResource struct {
	URL       string `json:"url"`
	Mimetype  string `json:"mimetype"`
	SHA       string `json:"sha"`
	Root      bool   `json:"root"`
	ForWidths []int  `json:"forWidths"`
}

func (c *gcsDebugClient) CreateSnapshot(ctx context.Context, buildID, name string, widths []int, resources []percy.Resource) (string, error) {
	snapshotID, err := c.Client.CreateSnapshot(ctx, buildID, name, widths, resources)
	if err != nil {
		return "", err
	}

	if uploadErr := c.uploadDebugBundle(ctx, buildID, name, widths, resources); uploadErr != nil {
		// Debug artefacts are best-effort: the real API call already
		// succeeded, so we log and move on rather than failing the snapshot.
		c.log.Debug().Err(uploadErr).Str("snapshot", name).Msg("failed to upload debug bundle")
	}

	return snapshotID, nil
}

func (c *gcsDebugClient) uploadDebugBundle(ctx context.Context, buildID, name string, widths []int, resources []percy.Resource) error {
	bundle := debugBundle{Name: name, Widths: widths}
	for _, r := range resources {
		bundle.Resources = append(bundle.Resources, debugResource{
			URL:       r.URL,
			Mimetype:  r.Mimetype,
			SHA:       r.SHA,
			Root:      r.Root,
			ForWidths: r.ForWidths,
		})
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("marshal debug bundle: %w", err)
	}

	objectName := fmt.Sprintf("builds/%s/%s/%s.json", buildID, time.Now().UTC().Format("2006/01/02"), name)
	obj := c.bucketClient.Bucket(c.bucket).Object(objectName)
	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := bytes.NewReader(data).WriteTo(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("write debug bundle: %w", err)
	}
	return w.Close()
}
