package cycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/couchcryptid/nowcast-alert-service/internal/domain"
)

// FileHeartbeat stores the latest heartbeat as a JSON file read by the
// dashboard and the readiness check.
type FileHeartbeat struct {
	path string
}

// NewFileHeartbeat creates a FileHeartbeat writing to path.
func NewFileHeartbeat(path string) *FileHeartbeat {
	return &FileHeartbeat{path: path}
}

// Write replaces the heartbeat file. The file is written to a temporary
// sibling and renamed so readers never see a partial document.
func (h *FileHeartbeat) Write(hb domain.Heartbeat) error {
	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}
	dir := filepath.Dir(h.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create heartbeat dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".heartbeat-*")
	if err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write heartbeat: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write heartbeat: %w", err)
	}
	if err := os.Rename(tmp.Name(), h.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}

// Read returns the last heartbeat written.
func (h *FileHeartbeat) Read() (domain.Heartbeat, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		return domain.Heartbeat{}, fmt.Errorf("read heartbeat: %w", err)
	}
	var hb domain.Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return domain.Heartbeat{}, fmt.Errorf("decode heartbeat: %w", err)
	}
	return hb, nil
}
