package agent

import (
	"fmt"
	"mime"
	"os"
	"regexp"
	"strings"

	"github.com/gliderlab/wagem/gateway/channels/types"
	"github.com/gliderlab/wagem/pkg/llm"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// extensionFor maps a MIME type to a file extension, e.g. image/jpeg -> .jpg
func extensionFor(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.TrimSpace(strings.ToLower(base))
	switch base {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "":
		return ".bin"
	}
	if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		return exts[0]
	}
	if _, sub, ok := strings.Cut(base, "/"); ok && sub != "" {
		return "." + unsafeName.ReplaceAllString(sub, "")
	}
	return ".bin"
}

// stageMedia writes the payload to a temp file named after the user and the
// MIME extension and reads it back as inline data. The caller removes path;
// on error nothing is left behind.
func stageMedia(dir, userID string, m *types.Media) (data *llm.InlineData, path string, err error) {
	if m == nil || len(m.Data) == 0 {
		return nil, "", fmt.Errorf("empty media payload")
	}
	mimeType := m.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	prefix := unsafeName.ReplaceAllString(userID, "_") + "-*"
	f, err := os.CreateTemp(dir, prefix+extensionFor(mimeType))
	if err != nil {
		return nil, "", fmt.Errorf("create temp file: %w", err)
	}
	path = f.Name()
	defer func() {
		if err != nil {
			os.Remove(path)
			path = ""
		}
	}()

	if _, err = f.Write(m.Data); err != nil {
		f.Close()
		return nil, path, fmt.Errorf("write temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		return nil, path, fmt.Errorf("close temp file: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read temp file: %w", err)
	}
	return &llm.InlineData{MIMEType: mimeType, Data: raw}, path, nil
}
