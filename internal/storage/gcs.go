package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/joseph-ayodele/nfe-ocr/constants"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
)

// maxKeyProbes bounds the _N suffixes tried when an object name is taken.
const maxKeyProbes = 50

// GCS is a secondary tier writing objects to <bucket>/<prefix>/TAXID-<id>/<date>/<name>.
// Objects are created with a DoesNotExist precondition and are never overwritten.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

func NewGCS(ctx context.Context, bucket, prefix string, logger *slog.Logger, opts ...option.ClientOption) (*GCS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, common.NewAppError(common.CodeConfig, "create gcs client", err)
	}
	return &GCS{client: c, bucket: bucket, prefix: prefix, logger: logger}, nil
}

func (g *GCS) Name() constants.Backend     { return constants.BackendSecondaryBlob }
func (g *GCS) Type() constants.StorageType { return constants.StorageRemote }
func (g *GCS) Close() error                { return g.client.Close() }

func (g *GCS) Put(ctx context.Context, f File) (Location, error) {
	bh := g.client.Bucket(g.bucket)
	for _, key := range candidateKeys(g.prefix, f) {
		w := bh.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
		w.ContentType = f.MIMEType
		w.Metadata = map[string]string{"tax_id": common.SanitizeTaxID(f.TaxID), "ocr_success": fmt.Sprint(f.OCRSuccess)}

		if _, err := w.Write(f.Data); err != nil {
			_ = w.Close()
			return Location{}, common.PersistenceError("gcs write", err)
		}
		err := w.Close()
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			g.logger.Info("storage.gcs.name_taken", "key", key)
			continue
		}
		if err != nil {
			return Location{}, common.PersistenceError("gcs finalize", err)
		}
		g.logger.Info("storage.gcs.saved", "bucket", g.bucket, "key", key, "size", len(f.Data))
		return Location{
			FullPath: g.bucket + "/" + key,
			Filename: path.Base(key),
			Size:     int64(len(f.Data)),
		}, nil
	}
	return Location{}, common.PersistenceError("gcs", fmt.Errorf("no free object name for %s", f.Name))
}

// candidateKeys yields the object key for f followed by its _1.._N variants.
func candidateKeys(prefix string, f File) []string {
	dir := path.Join(prefix, f.TaxIDFolder(), f.DateFolder())
	ext := path.Ext(f.Name)
	stem := strings.TrimSuffix(f.Name, ext)
	keys := make([]string, 0, maxKeyProbes+1)
	keys = append(keys, path.Join(dir, f.Name))
	for n := 1; n <= maxKeyProbes; n++ {
		keys = append(keys, path.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext)))
	}
	return keys
}
