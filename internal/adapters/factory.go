package adapters

import (
	"context"
	"time"

	"github.com/archivist/engine/internal/adapters/localfolder"
	"github.com/archivist/engine/internal/adapters/s3"
	"github.com/archivist/engine/internal/adapters/webdav"
	"github.com/archivist/engine/pkg/domain"
	"github.com/archivist/engine/pkg/errors"
)

// NewForSource builds the Adapter matching src.Type from its type-specific
// config, the construction step the Scheduler and engine facade's
// test_connection/estimate_crawl operations both need (§6).
func NewForSource(ctx context.Context, src domain.Source) (Adapter, error) {
	switch src.Type {
	case domain.SourceTypeWebDAV:
		if src.Config.WebDAV == nil {
			return nil, errors.New(errors.KindValidation, "webdav source missing webdav config")
		}
		cfg := src.Config.WebDAV
		return webdav.New(webdav.Config{
			ServerURL:      cfg.ServerURL,
			Username:       cfg.Username,
			Password:       cfg.Password,
			ServerType:     cfg.ServerType,
			RequestTimeout: 30 * time.Second,
		})
	case domain.SourceTypeS3:
		if src.Config.S3 == nil {
			return nil, errors.New(errors.KindValidation, "s3 source missing s3 config")
		}
		cfg := src.Config.S3
		return s3.New(ctx, s3.Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			ForcePathStyle:  cfg.ForcePathStyle,
		})
	case domain.SourceTypeLocalFolder:
		if src.Config.LocalFolder == nil {
			return nil, errors.New(errors.KindValidation, "local folder source missing local_folder config")
		}
		return localfolder.New(localfolder.Config{
			RootPath: src.Config.LocalFolder.RootPath,
		})
	default:
		return nil, errors.New(errors.KindValidation, "unknown source type: "+string(src.Type))
	}
}
