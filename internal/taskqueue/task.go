package taskqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb"
	"github.com/teris-io/shortid"
)

// TaskStatus represents the current status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Finished reports whether the task reached a terminal status
func (s TaskStatus) Finished() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// BoundingBox represents a geographic bounding box
type BoundingBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Bound converts the box to an orb bound
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.West, b.South}, Max: orb.Point{b.East, b.North}}
}

// TaskProgress represents detailed progress information
type TaskProgress struct {
	TilesTotal     int `json:"tilesTotal"`
	TilesCompleted int `json:"tilesCompleted"`
	Percent        int `json:"percent"`
}

// ExportTask is a queued render of a bounding box to disk
type ExportTask struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      TaskStatus `json:"status"`
	CreatedAt   string     `json:"createdAt"` // ISO 8601 format
	StartedAt   string     `json:"startedAt,omitempty"`
	CompletedAt string     `json:"completedAt,omitempty"`

	// Export settings
	BBox    BoundingBox `json:"bbox"`
	MinZoom int         `json:"minZoom"`
	MaxZoom int         `json:"maxZoom"`
	Format  string      `json:"format"` // "tiles", "geotiff", "both"

	Progress TaskProgress `json:"progress"`

	// Error message if failed
	Error string `json:"error,omitempty"`

	// Output path for completed exports
	OutputPath string `json:"outputPath,omitempty"`
}

// NewExportTask creates a pending task
func NewExportTask(name string, bbox BoundingBox, minZoom, maxZoom int, format string) *ExportTask {
	return &ExportTask{
		ID:        generateTaskID(),
		Name:      name,
		Status:    TaskStatusPending,
		CreatedAt: time.Now().Format(time.RFC3339),
		BBox:      bbox,
		MinZoom:   minZoom,
		MaxZoom:   maxZoom,
		Format:    format,
	}
}

func generateTaskID() string {
	if id, err := shortid.Generate(); err == nil {
		return "task_" + id
	}
	return fmt.Sprintf("task_%d", time.Now().UnixNano())
}

// SaveToFile persists the task to a JSON file
func (t *ExportTask) SaveToFile(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create task directory: %w", err)
	}

	path := filepath.Join(dir, t.ID+".json")
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write task file: %w", err)
	}

	return nil
}

// LoadFromFile loads a task from a JSON file
func LoadFromFile(path string) (*ExportTask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}

	var task ExportTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	return &task, nil
}

// DeleteFile removes the task file from disk
func (t *ExportTask) DeleteFile(dir string) error {
	return os.Remove(filepath.Join(dir, t.ID+".json"))
}

// UpdateProgress records rendered tiles
func (t *ExportTask) UpdateProgress(completed, total int) {
	t.Progress.TilesCompleted = completed
	t.Progress.TilesTotal = total
	if total > 0 {
		t.Progress.Percent = min(100, completed*100/total)
	}
}

// MarkStarted marks the task as started
func (t *ExportTask) MarkStarted() {
	t.StartedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusRunning
}

// MarkCompleted marks the task as completed
func (t *ExportTask) MarkCompleted(outputPath string) {
	t.CompletedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusCompleted
	t.OutputPath = outputPath
	t.Progress.Percent = 100
}

// MarkFailed marks the task as failed with an error
func (t *ExportTask) MarkFailed(err error) {
	t.CompletedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusFailed
	if err != nil {
		t.Error = err.Error()
	}
}

// MarkCancelled marks the task as cancelled
func (t *ExportTask) MarkCancelled() {
	t.CompletedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusCancelled
}
