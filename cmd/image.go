package cmd

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/eduia/tutor/internal/llm"
)

// maxImageSize bounds attachments; larger inline payloads are rejected by
// both backends.
const maxImageSize = 15 << 20

// loadImage reads an image file and encodes it for a turn.
func loadImage(path string) (*llm.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("image: %s is a directory", path)
	}
	if info.Size() > maxImageSize {
		return nil, fmt.Errorf("image: %s is larger than %d MB", path, maxImageSize>>20)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	mimeType := http.DetectContentType(data)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("image: %s is not an image (%s)", path, mimeType)
	}
	return &llm.Image{
		Base64:   base64.StdEncoding.EncodeToString(data),
		MIMEType: mimeType,
	}, nil
}
