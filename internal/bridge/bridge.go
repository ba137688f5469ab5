package bridge

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"agropos/backend/internal/domain"
)

// Native is the optional platform shell seam. When the backend runs inside a
// native wrapper (kiosk shell, desktop app), the wrapper provides file save
// and app metadata; otherwise web-style fallbacks apply.
type Native interface {
	SaveFile(payload []byte, filename string) (string, error)
	AppInfo() (domain.AppInfo, error)
}

type Bridge struct {
	native    Native
	exportDir string
	version   string
}

// New builds a bridge. native may be nil; exportDir defaults to a directory
// under the OS temp dir when empty.
func New(native Native, exportDir string, version string) *Bridge {
	if exportDir == "" {
		exportDir = filepath.Join(os.TempDir(), "agropos-exports")
	}
	if version == "" {
		version = "dev"
	}
	return &Bridge{native: native, exportDir: exportDir, version: version}
}

// Export hands the payload to the native shell when present, and otherwise
// falls back to a local download-directory write. Failure is reported in the
// result, never as an error: the caller surfaces the message to the user.
func (b *Bridge) Export(payload []byte, filename string) domain.ExportResult {
	filename = sanitizeFilename(filename)
	if filename == "" {
		return domain.ExportResult{Success: false, Message: "filename required"}
	}

	if b.native != nil {
		path, err := b.native.SaveFile(payload, filename)
		if err == nil {
			return domain.ExportResult{Success: true, Path: path}
		}
		// Fall through to the web-style fallback on native failure.
	}

	if err := os.MkdirAll(b.exportDir, 0o755); err != nil {
		return domain.ExportResult{Success: false, Message: fmt.Sprintf("export directory unavailable: %v", err)}
	}
	path := filepath.Join(b.exportDir, filename)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return domain.ExportResult{Success: false, Message: fmt.Sprintf("write failed: %v", err)}
	}
	return domain.ExportResult{Success: true, Path: path, Message: "saved via download fallback"}
}

// AppInfo returns the native shell's metadata when available, or fixed
// fallback values describing the server process.
func (b *Bridge) AppInfo() domain.AppInfo {
	if b.native != nil {
		if info, err := b.native.AppInfo(); err == nil {
			return info
		}
	}
	return domain.AppInfo{
		Version:      b.version,
		Platform:     runtime.GOOS,
		Architecture: runtime.GOARCH,
	}
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}
