package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// documentWire accepts both the canonical field names and the legacy ones
// older catalog pages wrote into shared storage (cloudinaryUrl, uploadDate,
// type, university, ...).
type documentWire struct {
	ID          string    `json:"id"`
	PublicID    string    `json:"cloudinaryPublicId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Subject     string    `json:"subject"`
	DocType     string    `json:"docType"`
	LegacyType  string    `json:"type"`
	Year        looseInt  `json:"year"`
	Institution string    `json:"institution"`
	University  string    `json:"university"`
	File        *FileRef  `json:"file"`
	RemoteURL   string    `json:"cloudinaryUrl"`
	DownloadURL string    `json:"downloadUrl"`
	FileName    string    `json:"fileName"`
	OrigName    string    `json:"originalName"`
	FileType    string    `json:"fileType"`
	FileSize    looseInt  `json:"fileSize"`
	Tags        []string  `json:"tags"`
	UploadedAt  looseTime `json:"uploadedAt"`
	UploadDate  looseTime `json:"uploadDate"`
	Origin      Origin    `json:"origin"`
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var w documentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	doc := Document{
		ID:          w.ID,
		Title:       w.Title,
		Description: w.Description,
		Subject:     w.Subject,
		DocType:     firstNonEmpty(w.DocType, w.LegacyType),
		Year:        int(w.Year),
		Institution: firstNonEmpty(w.Institution, w.University),
		Tags:        w.Tags,
		UploadedAt:  time.Time(w.UploadedAt),
		Origin:      w.Origin,
	}
	if w.PublicID != "" {
		doc.ID = w.PublicID
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Time(w.UploadDate)
	}

	if w.File != nil {
		doc.File = *w.File
	} else {
		doc.File = FileRef{
			RemoteURL:        firstNonEmpty(w.RemoteURL, w.DownloadURL),
			FileName:         w.FileName,
			OriginalFileName: firstNonEmpty(w.OrigName, w.FileName),
			ByteSize:         int64(w.FileSize),
			Format:           strings.ToLower(w.FileType),
		}
	}

	*d = doc
	return nil
}

// looseInt decodes numbers and numeric strings; anything else becomes 0.
type looseInt int64

func (n *looseInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*n = 0
			return nil
		}
		raw = strings.TrimSpace(s)
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*n = looseInt(v)
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*n = looseInt(f)
		return nil
	}
	*n = 0
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// looseTime decodes the timestamp spellings seen in shared storage. Values
// that do not parse decode to the zero time instead of failing the record.
type looseTime time.Time

func (t *looseTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*t = looseTime{}
		return nil
	}
	*t = looseTime(ParseTimestamp(s))
	return nil
}

// ParseTimestamp parses an ISO 8601 timestamp, returning the zero time when
// none of the accepted layouts match.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
