package core

// preflight.go holds the local file checks that run before anything is
// sent to the backend. A file that fails here never reaches the network.

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
	"github.com/JonMunkholm/ledgerbridge/internal/config"
	"github.com/gabriel-vasile/mimetype"
)

// fileKinds maps an accepted extension to the detected MIME families that
// may back it and the content type sent upstream.
var fileKinds = map[string]struct {
	families    []string
	contentType string
}{
	"csv": {
		families:    []string{"text/csv", "text/plain"},
		contentType: "text/csv",
	},
	"json": {
		families:    []string{"application/json", "text/plain"},
		contentType: "application/json",
	},
	"xlsx": {
		families:    []string{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/zip"},
		contentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	},
	"xls": {
		families:    []string{"application/vnd.ms-excel", "application/x-ole-storage"},
		contentType: "application/vnd.ms-excel",
	},
}

// ReadFileInput reads at most maxSize+1 bytes from r so oversized files are
// detected without buffering them whole.
func ReadFileInput(name string, r io.Reader, maxSize int64) (FileInput, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return FileInput{}, fmt.Errorf("reading %s: %w", name, err)
	}
	if int64(len(data)) > maxSize {
		return FileInput{}, &PreflightError{
			Reason:   ReasonTooLarge,
			FileName: name,
			Detail:   fmt.Sprintf("file exceeds the %s limit", formatBytes(maxSize)),
		}
	}
	return FileInput{Name: name, Size: int64(len(data)), Data: data}, nil
}

// Preflight validates a file's extension, detected type and size and returns
// it ready for upload.
func Preflight(in FileInput, cfg config.ImportConfig) (accounting.Upload, error) {
	reject := func(reason PreflightReason, format string, args ...any) (accounting.Upload, error) {
		return accounting.Upload{}, &PreflightError{Reason: reason, FileName: in.Name, Detail: fmt.Sprintf(format, args...)}
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(in.Name), "."))
	kind, known := fileKinds[ext]
	if ext == "" || !known || !slices.Contains(cfg.AllowedExtensions, ext) {
		return reject(ReasonExtension, "unsupported file type %q (allowed: %s)",
			ext, strings.Join(cfg.AllowedExtensions, ", "))
	}

	size := int64(len(in.Data))
	if in.Size > size {
		size = in.Size
	}
	if size > cfg.MaxFileSize {
		return reject(ReasonTooLarge, "%s exceeds the %s limit", formatBytes(size), formatBytes(cfg.MaxFileSize))
	}
	if len(in.Data) == 0 {
		return reject(ReasonEmpty, "file is empty")
	}

	detected := mimetype.Detect(in.Data)
	if !matchesFamily(detected, kind.families) {
		return reject(ReasonMIMEType, "content looks like %s, not a .%s file", detected.String(), ext)
	}

	return accounting.Upload{Name: filepath.Base(in.Name), ContentType: kind.contentType, Data: in.Data}, nil
}

// matchesFamily walks the detected type's parent chain. The generic
// application/octet-stream root never matches.
func matchesFamily(m *mimetype.MIME, families []string) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("application/octet-stream") {
			return false
		}
		for _, f := range families {
			if m.Is(f) {
				return true
			}
		}
	}
	return false
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%dB", n)
}
