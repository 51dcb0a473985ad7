// Package entrykind decides what kind of Kaltura entry a local file should
// become, based on content-sniffed MIME types.
package entrykind

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Kind is a Kaltura entry category.
type Kind int

const (
	// Data is the fallback for anything the platform cannot transcode.
	Data Kind = iota
	// Media covers image, audio and video content.
	Media
	// Document covers PDF, SWF and office formats.
	Document
)

// String ...
func (k Kind) String() string {
	switch k {
	case Media:
		return "media"
	case Document:
		return "document"
	default:
		return "data"
	}
}

// DefaultMIMEType stands in when detection fails entirely.
const DefaultMIMEType = "application/octet-stream"

// KalturaDocumentType values.
const (
	documentTypeDocument = 11
	documentTypeSWF      = 12
	documentTypePDF      = 13
)

// Detect sniffs the file's MIME type from content, falling back to the
// extension when the file cannot be read. The returned type is never empty.
func Detect(path string) string {
	detected, err := mimetype.DetectFile(path)
	if err == nil {
		return normalize(detected.String())
	}

	if byExtension := mime.TypeByExtension(filepath.Ext(path)); byExtension != "" {
		return normalize(byExtension)
	}
	return DefaultMIMEType
}

// normalize strips parameters like "; charset=utf-8" and lowercases.
func normalize(mimeType string) string {
	if base, _, err := mime.ParseMediaType(mimeType); err == nil {
		return base
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// Classify maps a MIME type to the entry kind the platform should ingest it
// as. Unknown and empty types land on Data.
func Classify(mimeType string) Kind {
	mimeType = strings.ToLower(mimeType)

	switch {
	case strings.HasPrefix(mimeType, "image/"),
		strings.HasPrefix(mimeType, "audio/"),
		strings.HasPrefix(mimeType, "video/"):
		return Media
	case mimeType == "application/pdf",
		mimeType == "application/x-shockwave-flash",
		strings.HasPrefix(mimeType, "application/msword"),
		strings.Contains(mimeType, "application/vnd.openxmlformats-officedocument"):
		return Document
	default:
		return Data
	}
}

// ClassifyFile is Detect followed by Classify, returning both.
func ClassifyFile(path string) (Kind, string) {
	mimeType := Detect(path)
	return Classify(mimeType), mimeType
}

// DocumentType maps a MIME type to the KalturaDocumentType enum value used
// when creating document entries.
func DocumentType(mimeType string) int {
	switch strings.ToLower(mimeType) {
	case "application/pdf":
		return documentTypePDF
	case "application/x-shockwave-flash":
		return documentTypeSWF
	default:
		return documentTypeDocument
	}
}
