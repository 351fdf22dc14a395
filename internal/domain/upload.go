package domain

import "time"

// UploadResult is what the media widget reports for a finished upload. Only
// these fields are relied upon.
type UploadResult struct {
	PublicID         string `json:"public_id"`
	SecureURL        string `json:"secure_url" validate:"required,url"`
	Bytes            int64  `json:"bytes" validate:"gte=0"`
	Format           string `json:"format"`
	OriginalFilename string `json:"original_filename"`
	CreatedAt        string `json:"created_at"`
}

type UploadMetadata struct {
	Title       string   `json:"title" validate:"max=200"`
	Description string   `json:"description" validate:"max=2000"`
	Subject     string   `json:"subject" validate:"max=100"`
	DocType     string   `json:"type" validate:"max=50"`
	Year        int      `json:"year" validate:"omitempty,gte=1900,lte=3000"`
	Institution string   `json:"institution" validate:"max=200"`
	Tags        []string `json:"tags" validate:"max=20,dive,max=50"`
}

type WidgetError struct {
	Message string `json:"message"`
}

// UploadRequest is the body of POST /uploads: either Info (success) or Error.
type UploadRequest struct {
	Info     *UploadResult  `json:"info"`
	Error    *WidgetError   `json:"error"`
	Metadata UploadMetadata `json:"metadata"`
}

type ChangeEventType string

const EventDocumentChanged ChangeEventType = "documentChanged"

type ChangeEvent struct {
	Type      ChangeEventType `json:"type"`
	Document  Document        `json:"document"`
	Timestamp time.Time       `json:"timestamp"`
	SourceID  string          `json:"sourceId"`
}

func NewChangeEvent(doc Document, sourceID string, now time.Time) ChangeEvent {
	return ChangeEvent{
		Type:      EventDocumentChanged,
		Document:  doc,
		Timestamp: now.UTC(),
		SourceID:  sourceID,
	}
}
