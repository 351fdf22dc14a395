package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

type Origin string

const (
	OriginLocal     Origin = "local-cache"
	OriginRemote    Origin = "remote"
	OriginBroadcast Origin = "broadcast"
)

// Rank orders origins for timestamp ties. Only the remote store outranks
// anything; local cache and broadcast copies are peers.
func (o Origin) Rank() int {
	if o == OriginRemote {
		return 1
	}
	return 0
}

const (
	DefaultSubject = "general"
	DefaultDocType = "notes"
)

type FileRef struct {
	RemoteURL        string `json:"remoteUrl"`
	FileName         string `json:"fileName"`
	OriginalFileName string `json:"originalFileName"`
	ByteSize         int64  `json:"byteSize"`
	Format           string `json:"format"`
}

// DisplaySize renders ByteSize for catalog cards.
func (f FileRef) DisplaySize() string {
	if f.ByteSize <= 0 {
		return "Unknown size"
	}
	return humanize.Bytes(uint64(f.ByteSize))
}

// DownloadURL forces an attachment download for provider URLs that support
// delivery flags, and falls back to the raw URL otherwise.
func (f FileRef) DownloadURL() string {
	if strings.Contains(f.RemoteURL, "/upload/") && !strings.Contains(f.RemoteURL, "/upload/fl_attachment/") {
		return strings.Replace(f.RemoteURL, "/upload/", "/upload/fl_attachment/", 1)
	}
	return f.RemoteURL
}

type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Subject     string    `json:"subject"`
	DocType     string    `json:"docType"`
	Year        int       `json:"year"`
	Institution string    `json:"institution,omitempty"`
	File        FileRef   `json:"file"`
	Tags        []string  `json:"tags"`
	UploadedAt  time.Time `json:"uploadedAt"`
	Origin      Origin    `json:"origin,omitempty"`
}

// Clone returns a copy that shares no slices with d.
func (d Document) Clone() Document {
	out := d
	if d.Tags != nil {
		out.Tags = append([]string(nil), d.Tags...)
	}
	return out
}

// SortByRecency orders docs newest first, breaking ties by ID ascending.
func SortByRecency(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].UploadedAt.Equal(docs[j].UploadedAt) {
			return docs[i].UploadedAt.After(docs[j].UploadedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}

// Truncate returns the limit most recent docs. A limit of zero or less keeps
// everything.
func Truncate(docs []Document, limit int) []Document {
	out := make([]Document, len(docs))
	copy(out, docs)
	SortByRecency(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Snapshot is the envelope stored in the remote blob and in every local slot.
type Snapshot struct {
	Documents   []Document `json:"documents"`
	LastUpdated time.Time  `json:"lastUpdated"`
	TotalCount  int        `json:"totalCount"`
}

func NewSnapshot(docs []Document, now time.Time) Snapshot {
	if docs == nil {
		docs = []Document{}
	}
	return Snapshot{
		Documents:   docs,
		LastUpdated: now.UTC(),
		TotalCount:  len(docs),
	}
}

type DocumentResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Subject     string    `json:"subject"`
	DocType     string    `json:"docType"`
	Year        int       `json:"year"`
	Institution string    `json:"institution,omitempty"`
	FileName    string    `json:"fileName"`
	Format      string    `json:"format"`
	FileSize    string    `json:"fileSize"`
	ViewURL     string    `json:"viewUrl"`
	DownloadURL string    `json:"downloadUrl"`
	Tags        []string  `json:"tags"`
	UploadedAt  time.Time `json:"uploadedAt"`
	Origin      Origin    `json:"origin,omitempty"`
}

func (d Document) Response() DocumentResponse {
	name := d.File.OriginalFileName
	if name == "" {
		name = d.File.FileName
	}
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return DocumentResponse{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		Subject:     d.Subject,
		DocType:     d.DocType,
		Year:        d.Year,
		Institution: d.Institution,
		FileName:    name,
		Format:      strings.ToUpper(d.File.Format),
		FileSize:    d.File.DisplaySize(),
		ViewURL:     d.File.RemoteURL,
		DownloadURL: d.File.DownloadURL(),
		Tags:        tags,
		UploadedAt:  d.UploadedAt,
		Origin:      d.Origin,
	}
}
