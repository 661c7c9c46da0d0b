// Multimodal payload preparation and local upload containment
package service

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/gabriel-vasile/mimetype"

	"github.com/heartside/heartside/pkg/db"
	"github.com/heartside/heartside/pkg/utils"
)

// uploadURLPrefix is the public namespace local uploads are served
// under. Anything else is treated as externally hosted.
const uploadURLPrefix = "/uploads/"

// transcriptLabel prefixes audio transcripts merged into the text part
// of a model message.
const transcriptLabel = "[音频转录]: "

// localHosts are the hostnames whose URLs may address local uploads.
var localHosts = map[string]bool{
	"127.0.0.1": true,
	"localhost": true,
}

// ImagePreparer resolves, validates and encodes image references for
// model input. Local-relative references are inlined as base64 data
// URLs after a containment check against the upload root; externally
// hosted references pass through unchanged; anything that escapes the
// root or cannot be read is silently dropped.
type ImagePreparer struct {
	uploadRoot string
	logger     *slog.Logger
}

// NewImagePreparer creates a preparer rooted at the given upload
// directory. The directory does not need to exist yet.
func NewImagePreparer(uploadDir string) (*ImagePreparer, error) {
	root, err := filepath.Abs(uploadDir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload root %s: %w", uploadDir, err)
	}
	return &ImagePreparer{
		uploadRoot: root,
		logger:     utils.GetLogger(),
	}, nil
}

// refKind classifies an image reference.
type refKind int

const (
	refExternal refKind = iota // absolute URL outside the upload namespace
	refLocal                   // contained path under the upload root
	refRejected                // traversal attempt or malformed local reference
)

// uploadRelativePath extracts the path relative to the upload
// namespace, or reports that the reference is externally hosted.
func uploadRelativePath(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}

	requestPath := ref
	if parsed, err := url.Parse(ref); err == nil && (parsed.Scheme == "http" || parsed.Scheme == "https") {
		if !localHosts[parsed.Hostname()] {
			return "", false
		}
		requestPath = parsed.Path
	}
	if unescaped, err := url.PathUnescape(requestPath); err == nil {
		requestPath = unescaped
	}

	if !strings.HasPrefix(requestPath, uploadURLPrefix) {
		return "", false
	}
	return strings.TrimPrefix(requestPath, uploadURLPrefix), true
}

// classify resolves a reference to an absolute on-disk path when it is
// local. Containment is verified before any filesystem access: a
// reference whose canonical form escapes the upload root is rejected
// regardless of surrounding valid segments.
func (p *ImagePreparer) classify(ref string) (string, refKind) {
	rel, isLocal := uploadRelativePath(ref)
	if !isLocal {
		return "", refExternal
	}

	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || filepath.IsAbs(rel) {
		return "", refRejected
	}
	for _, segment := range strings.Split(filepath.ToSlash(rel), "/") {
		if segment == ".." {
			return "", refRejected
		}
	}

	candidate := filepath.Join(p.uploadRoot, filepath.FromSlash(rel))
	inside, err := filepath.Rel(p.uploadRoot, candidate)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", refRejected
	}
	return candidate, refLocal
}

// prepareImagePart converts one image reference into a model content
// part. The second return value is false when the reference must be
// dropped from the payload.
func (p *ImagePreparer) prepareImagePart(ref string) (schema.ChatMessagePart, bool) {
	path, kind := p.classify(ref)
	switch kind {
	case refExternal:
		return schema.ChatMessagePart{
			Type:     schema.ChatMessagePartTypeImageURL,
			ImageURL: &schema.ChatMessageImageURL{URL: ref, Detail: "auto"},
		}, true
	case refRejected:
		p.logger.Warn("Dropping image reference escaping upload root", "ref", ref)
		return schema.ChatMessagePart{}, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		p.logger.Warn("Dropping unreadable local image", "ref", ref, "error", err)
		return schema.ChatMessagePart{}, false
	}

	mime := mimetype.Detect(data).String()
	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
	return schema.ChatMessagePart{
		Type:     schema.ChatMessagePartTypeImageURL,
		ImageURL: &schema.ChatMessageImageURL{URL: dataURL, Detail: "auto"},
	}, true
}

// PrepareMessage converts one stored message into a model message,
// interleaving the text part with its surviving image parts. Audio
// transcripts are merged into the text part with a labeled suffix.
func (p *ImagePreparer) PrepareMessage(msg *db.Message) *schema.Message {
	text := msg.Content
	if msg.AudioText != "" {
		if text != "" {
			text += "\n\n" + transcriptLabel + msg.AudioText
		} else {
			text = transcriptLabel + msg.AudioText
		}
	}

	if len(msg.ImageURLs) == 0 {
		return &schema.Message{Role: schema.RoleType(msg.Role), Content: text}
	}

	parts := []schema.ChatMessagePart{}
	if text != "" {
		parts = append(parts, schema.ChatMessagePart{Type: schema.ChatMessagePartTypeText, Text: text})
	}
	for _, ref := range msg.ImageURLs {
		if part, ok := p.prepareImagePart(ref); ok {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, schema.ChatMessagePart{Type: schema.ChatMessagePartTypeText, Text: ""})
	}
	return &schema.Message{Role: schema.RoleType(msg.Role), MultiContent: parts}
}

// BuildPayload converts an oldest-first history into the model payload.
func (p *ImagePreparer) BuildPayload(history []db.Message) []*schema.Message {
	payload := make([]*schema.Message, 0, len(history))
	for i := range history {
		payload = append(payload, p.PrepareMessage(&history[i]))
	}
	return payload
}

// CheckLocalUpload reports whether a reference addresses a local
// upload and, if so, whether it resolves to an existing file. For
// externally hosted references isLocal is false and exists is
// meaningless.
func (p *ImagePreparer) CheckLocalUpload(ref string) (isLocal bool, exists bool) {
	path, kind := p.classify(ref)
	switch kind {
	case refExternal:
		return false, false
	case refRejected:
		return true, false
	}
	_, err := os.Stat(path)
	return true, err == nil
}

// SanitizeImageURLs drops empty references and local references that
// do not resolve to an existing upload. External references are kept
// as-is.
func (p *ImagePreparer) SanitizeImageURLs(refs []string) []string {
	sanitized := []string{}
	for _, raw := range refs {
		ref := strings.TrimSpace(raw)
		if ref == "" {
			continue
		}
		if isLocal, exists := p.CheckLocalUpload(ref); isLocal && !exists {
			continue
		}
		sanitized = append(sanitized, ref)
	}
	return sanitized
}
