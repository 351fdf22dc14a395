package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"wwnotes-sync/internal/domain"
)

type recordingUpserter struct {
	docs []domain.Document
}

func (r *recordingUpserter) Upsert(ctx context.Context, doc domain.Document) domain.Document {
	n := domain.Normalize(doc, testNow)
	r.docs = append(r.docs, n)
	return n
}

func TestUploadService_Register(t *testing.T) {
	tests := []struct {
		name      string
		req       *domain.UploadRequest
		wantErr   bool
		wantID    string
		wantTitle string
	}{
		{
			name: "widget error",
			req: &domain.UploadRequest{
				Error: &domain.WidgetError{Message: "File size too large"},
			},
			wantErr: true,
		},
		{
			name:    "no file",
			req:     &domain.UploadRequest{},
			wantErr: true,
		},
		{
			name:    "nil request",
			req:     nil,
			wantErr: true,
		},
		{
			name: "success with metadata",
			req: &domain.UploadRequest{
				Info: &domain.UploadResult{
					PublicID:         "world-wide-notes/calc",
					SecureURL:        "https://res.cloudinary.com/demo/raw/upload/v1/calc.pdf",
					Bytes:            4096,
					Format:           "pdf",
					OriginalFilename: "calc",
					CreatedAt:        "2024-03-01T10:00:00Z",
				},
				Metadata: domain.UploadMetadata{Title: "Calculus Review", DocType: "exam", Year: 2024},
			},
			wantID:    "world-wide-notes/calc",
			wantTitle: "Calculus Review",
		},
		{
			name: "success without metadata",
			req: &domain.UploadRequest{
				Info: &domain.UploadResult{
					PublicID:         "world-wide-notes/organic_chem",
					SecureURL:        "https://res.cloudinary.com/demo/raw/upload/v1/oc.pdf",
					OriginalFilename: "organic_chem.pdf",
				},
			},
			wantID:    "world-wide-notes/organic_chem",
			wantTitle: "Organic Chem",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := &recordingUpserter{}
			svc := NewUploadService(registry)

			doc, err := svc.Register(context.Background(), tt.req)

			if tt.wantErr {
				if !errors.Is(err, domain.ErrUploadFailed) {
					t.Fatalf("expected ErrUploadFailed, got %v", err)
				}
				if len(registry.docs) != 0 {
					t.Error("no document may be stored on failure")
				}
				return
			}

			if err != nil {
				t.Fatalf("Register() error = %v", err)
			}
			if doc.ID != tt.wantID {
				t.Errorf("expected id %q, got %q", tt.wantID, doc.ID)
			}
			if doc.Title != tt.wantTitle {
				t.Errorf("expected title %q, got %q", tt.wantTitle, doc.Title)
			}
			if len(registry.docs) != 1 {
				t.Errorf("expected one upsert, got %d", len(registry.docs))
			}
		})
	}
}

func TestUploadService_WidgetErrorMessage(t *testing.T) {
	svc := NewUploadService(&recordingUpserter{})
	_, err := svc.Register(context.Background(), &domain.UploadRequest{
		Error: &domain.WidgetError{Message: "Network timeout"},
	})

	var uploadErr *domain.UploadError
	if !errors.As(err, &uploadErr) || uploadErr.Message != "Network timeout" {
		t.Fatalf("expected UploadError carrying the widget message, got %#v", err)
	}
}

func TestBuildDocument(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	doc := BuildDocument(&domain.UploadResult{
		SecureURL:        "https://cdn.example/notes",
		Format:           "DOCX",
		OriginalFilename: "essay",
		Bytes:            12,
	}, domain.UploadMetadata{}, now)

	if !strings.HasPrefix(doc.ID, "doc_") {
		t.Errorf("expected generated doc_ id, got %q", doc.ID)
	}
	if doc.File.OriginalFileName != "essay.docx" {
		t.Errorf("expected extension from format, got %q", doc.File.OriginalFileName)
	}
	if !doc.UploadedAt.Equal(now) {
		t.Errorf("expected upload time to default to now, got %v", doc.UploadedAt)
	}
	if doc.File.ByteSize != 12 || doc.File.Format != "docx" {
		t.Errorf("unexpected file ref: %+v", doc.File)
	}
}
