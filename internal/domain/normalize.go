package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode"
)

const maxExtractedTags = 5

// Normalize fills every optional field of doc with its default so internal
// code never re-checks them. It is deterministic for a given input and year,
// which keeps repeated ingestion of the same stored record idempotent.
func Normalize(doc Document, now time.Time) Document {
	out := doc.Clone()

	out.Title = strings.TrimSpace(out.Title)
	out.Description = strings.TrimSpace(out.Description)
	out.Subject = strings.ToLower(strings.TrimSpace(out.Subject))
	out.DocType = strings.ToLower(strings.TrimSpace(out.DocType))
	out.Institution = strings.TrimSpace(out.Institution)
	out.File.Format = strings.ToLower(strings.TrimSpace(out.File.Format))

	name := out.File.OriginalFileName
	if name == "" {
		name = out.File.FileName
	}
	if out.File.OriginalFileName == "" {
		out.File.OriginalFileName = out.File.FileName
	}
	if out.File.FileName == "" {
		out.File.FileName = out.File.OriginalFileName
	}
	if out.File.Format == "" {
		out.File.Format = strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	}

	userDescription := out.Description
	if out.Title == "" {
		out.Title = TitleFromFilename(name)
	}
	if out.Description == "" && name != "" {
		out.Description = "Student upload: " + name
	}
	if out.Subject == "" {
		out.Subject = GuessSubject(name)
	}
	if out.DocType == "" {
		out.DocType = DefaultDocType
	}
	if out.Year <= 0 {
		out.Year = now.Year()
	}

	if out.Tags == nil {
		out.Tags = ExtractTags(out.Title, userDescription)
	} else {
		tags := make([]string, 0, len(out.Tags))
		for _, t := range out.Tags {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		out.Tags = tags
	}

	if !out.UploadedAt.IsZero() {
		out.UploadedAt = out.UploadedAt.UTC()
	}

	out.ID = strings.TrimSpace(out.ID)
	if out.ID == "" {
		out.ID = ContentID(out)
	}
	return out
}

// ContentID derives a stable identity for records that carry none, so the
// same stored record maps to the same identity every time it is read.
func ContentID(doc Document) string {
	h := sha256.New()
	for _, part := range []string{
		doc.Title,
		doc.File.RemoteURL,
		doc.File.OriginalFileName,
		doc.UploadedAt.UTC().Format(time.RFC3339Nano),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "doc_" + hex.EncodeToString(h.Sum(nil))[:16]
}

// TitleFromFilename turns "calc_notes-week1.pdf" into "Calc Notes Week1".
func TitleFromFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Untitled Document"
	}
	base := strings.TrimSuffix(name, path.Ext(name))
	base = strings.Map(func(r rune) rune {
		if r == '_' || r == '-' {
			return ' '
		}
		return r
	}, base)

	words := strings.Fields(base)
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	if len(words) == 0 {
		return "Untitled Document"
	}
	return strings.Join(words, " ")
}

var subjectKeywords = []struct {
	subject  string
	keywords []string
}{
	{"math", []string{"math", "calculus", "algebra", "geometry"}},
	{"physics", []string{"physics", "mechanics", "thermodynamics"}},
	{"chemistry", []string{"chemistry", "organic", "inorganic"}},
	{"biology", []string{"biology", "anatomy", "genetics"}},
	{"english", []string{"english", "literature", "essay"}},
	{"history", []string{"history", "social"}},
	{"computer", []string{"computer", "programming", "code", "cs"}},
	{"resume", []string{"resume", "cv", "curriculum"}},
}

// GuessSubject maps filename keywords to a subject, defaulting to "general".
func GuessSubject(name string) string {
	lower := strings.ToLower(name)
	if lower == "" {
		return DefaultSubject
	}
	for _, s := range subjectKeywords {
		for _, kw := range s.keywords {
			if strings.Contains(lower, kw) {
				return s.subject
			}
		}
	}
	return DefaultSubject
}

var (
	wordPattern = regexp.MustCompile(`\b\w+\b`)
	stopWords   = map[string]struct{}{}
)

func init() {
	for _, w := range strings.Fields("the and or but in on at to for of with by a an is are was were be been have has had do does did will would could should may might must can this that these those") {
		stopWords[w] = struct{}{}
	}
}

// ExtractTags picks up to five keywords from the title and description.
func ExtractTags(title, description string) []string {
	text := strings.ToLower(title + " " + description)
	tags := []string{}
	for _, w := range wordPattern.FindAllString(text, -1) {
		if len(w) <= 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		tags = append(tags, w)
		if len(tags) == maxExtractedTags {
			break
		}
	}
	return tags
}
