// Package output persists one JSON artifact per video.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pauljones0/comment-harvester/internal/models"
	"github.com/pauljones0/comment-harvester/internal/validator"
)

// Writer writes artifacts into a single directory. Each artifact lands in
// one rename, so readers never observe a half-written file.
type Writer struct {
	dir       string
	anonymize bool
	validator *validator.Validator
}

// NewWriter creates dir if needed. With anonymize set, files are named by
// input position ("video_3.json") instead of video id.
func NewWriter(dir string, anonymize bool) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Writer{
		dir:       dir,
		anonymize: anonymize,
		validator: validator.New(),
	}, nil
}

func (w *Writer) Dir() string {
	return w.dir
}

// Path returns where the artifact for target is written.
func (w *Writer) Path(target models.VideoTarget) string {
	name := target.VideoID + ".json"
	if w.anonymize {
		name = fmt.Sprintf("video_%d.json", target.Index)
	}
	return filepath.Join(w.dir, name)
}

// Flush validates the artifact and writes it. An artifact that fails
// validation is not written and the error wraps models.ErrArtifactInvalid.
func (w *Writer) Flush(target models.VideoTarget, artifact *models.OutputArtifact) (string, error) {
	if artifact.Comments == nil {
		artifact.Comments = []models.CommentRecord{}
	}
	if err := w.validator.ValidateArtifact(artifact); err != nil {
		return "", fmt.Errorf("%w: %s: %v", models.ErrArtifactInvalid, target.VideoID, err)
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact %s: %w", target.VideoID, err)
	}

	path := w.Path(target)
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", target.VideoID, err)
	}

	slog.Info("Wrote artifact",
		"video", target.VideoID,
		"path", path,
		"comments", artifact.Meta.TotalCount,
		"partial", artifact.Meta.Partial,
	)
	return path, nil
}

// Completed reports whether a complete (non-partial) artifact for target
// already exists.
func (w *Writer) Completed(target models.VideoTarget) bool {
	data, err := os.ReadFile(w.Path(target))
	if err != nil {
		return false
	}
	var existing struct {
		Meta models.ArtifactMeta `json:"meta"`
	}
	if err := json.Unmarshal(data, &existing); err != nil {
		slog.Warn("Ignoring unreadable artifact", "path", w.Path(target), "error", err)
		return false
	}
	return !existing.Meta.Partial && existing.Meta.VideoID == target.VideoID
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpName, 0o644)
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		return errors.Join(err, os.Remove(tmpName))
	}
	return nil
}
