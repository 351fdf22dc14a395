package service

import (
	"context"
	"path"
	"strings"
	"time"

	"wwnotes-sync/internal/domain"

	"github.com/google/uuid"
)

type Upserter interface {
	Upsert(ctx context.Context, doc domain.Document) domain.Document
}

// UploadService turns a finished upload widget result into a catalog entry.
type UploadService struct {
	registry Upserter
	now      func() time.Time
}

func NewUploadService(registry Upserter) *UploadService {
	return &UploadService{
		registry: registry,
		now:      time.Now,
	}
}

// Register records the uploaded file. It returns an *domain.UploadError when
// the widget reported a failure or produced no file; nothing is stored then.
func (s *UploadService) Register(ctx context.Context, req *domain.UploadRequest) (domain.Document, error) {
	if req == nil {
		return domain.Document{}, &domain.UploadError{Message: "empty upload request"}
	}
	if req.Error != nil {
		return domain.Document{}, &domain.UploadError{Message: req.Error.Message}
	}
	if req.Info == nil || strings.TrimSpace(req.Info.SecureURL) == "" {
		return domain.Document{}, &domain.UploadError{Message: "upload widget returned no file"}
	}

	doc := BuildDocument(req.Info, req.Metadata, s.now())
	return s.registry.Upsert(ctx, doc), nil
}

// BuildDocument maps a widget result and form metadata onto a Document.
// Identity is the provider public ID, or a fresh doc_<uuid> without one.
func BuildDocument(info *domain.UploadResult, meta domain.UploadMetadata, now time.Time) domain.Document {
	id := strings.TrimSpace(info.PublicID)
	if id == "" {
		id = "doc_" + uuid.NewString()
	}

	format := strings.ToLower(strings.TrimSpace(info.Format))
	name := strings.TrimSpace(info.OriginalFilename)
	if name != "" && path.Ext(name) == "" && format != "" {
		name = name + "." + format
	}

	uploadedAt := domain.ParseTimestamp(info.CreatedAt)
	if uploadedAt.IsZero() {
		uploadedAt = now.UTC()
	}

	return domain.Document{
		ID:          id,
		Title:       meta.Title,
		Description: meta.Description,
		Subject:     meta.Subject,
		DocType:     meta.DocType,
		Year:        meta.Year,
		Institution: meta.Institution,
		Tags:        meta.Tags,
		File: domain.FileRef{
			RemoteURL:        info.SecureURL,
			FileName:         name,
			OriginalFileName: name,
			ByteSize:         info.Bytes,
			Format:           format,
		},
		UploadedAt: uploadedAt,
	}
}
