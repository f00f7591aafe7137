package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"landsat-desktop/internal/logging"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrTaskRunning    = errors.New("task is running")
	ErrTaskFinished   = errors.New("task already finished")
	ErrQueueRunning   = errors.New("queue is already running")
	ErrQueueNotActive = errors.New("queue is not running")
)

// QueueState represents the persistent queue state
type QueueState struct {
	TaskOrder []string `json:"taskOrder"`
	IsPaused  bool     `json:"isPaused"`
}

// QueueStatus represents the current queue status for events
type QueueStatus struct {
	IsRunning      bool   `json:"isRunning"`
	IsPaused       bool   `json:"isPaused"`
	CurrentTaskID  string `json:"currentTaskID"`
	TotalTasks     int    `json:"totalTasks"`
	CompletedTasks int    `json:"completedTasks"`
	PendingTasks   int    `json:"pendingTasks"`
}

// TaskExecutor runs one export. It receives a copy of the task and returns the output path.
type TaskExecutor interface {
	ExecuteExportTask(ctx context.Context, task ExportTask, progressChan chan<- TaskProgress) (string, error)
}

// QueueManager runs export tasks one at a time in insertion order
type QueueManager struct {
	mu          sync.Mutex
	tasks       map[string]*ExportTask
	taskOrder   []string
	storagePath string

	isRunning     bool
	isPaused      bool
	workerActive  bool
	currentTask   *ExportTask
	cancelCurrent context.CancelFunc
	workerWg      sync.WaitGroup

	executor       TaskExecutor
	onQueueUpdate  func(status QueueStatus)
	onTaskProgress func(taskID string, progress TaskProgress)
	onTaskComplete func(taskID string, success bool, err error)

	log *logrus.Entry
}

// NewQueueManager creates a queue persisted under storagePath
func NewQueueManager(storagePath string) *QueueManager {
	qm := &QueueManager{
		tasks:       make(map[string]*ExportTask),
		storagePath: storagePath,
		log:         logging.For("TaskQueue"),
	}

	if err := qm.loadState(); err != nil {
		qm.log.Warnf("Failed to load queue state: %v", err)
	}

	return qm
}

// SetExecutor sets the task executor
func (qm *QueueManager) SetExecutor(executor TaskExecutor) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	qm.executor = executor
}

// SetCallbacks sets event callbacks. They are never called with the queue locked.
func (qm *QueueManager) SetCallbacks(
	onQueueUpdate func(QueueStatus),
	onTaskProgress func(string, TaskProgress),
	onTaskComplete func(string, bool, error),
) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	qm.onQueueUpdate = onQueueUpdate
	qm.onTaskProgress = onTaskProgress
	qm.onTaskComplete = onTaskComplete
}

func (qm *QueueManager) getStoragePaths() (queueFile, tasksDir string) {
	return filepath.Join(qm.storagePath, "queue.json"), filepath.Join(qm.storagePath, "tasks")
}

// loadState loads the queue from disk. Tasks interrupted while running are pending again.
func (qm *QueueManager) loadState() error {
	queueFile, tasksDir := qm.getStoragePaths()

	var state QueueState
	if data, err := os.ReadFile(queueFile); err == nil {
		if err := json.Unmarshal(data, &state); err != nil {
			return fmt.Errorf("failed to parse queue state: %w", err)
		}
		qm.isPaused = state.IsPaused
	}

	entries, err := os.ReadDir(tasksDir)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		task, err := LoadFromFile(filepath.Join(tasksDir, entry.Name()))
		if err != nil {
			qm.log.Warnf("Failed to load task %s: %v", entry.Name(), err)
			continue
		}
		if task.Status == TaskStatusRunning {
			task.Status = TaskStatusPending
			task.StartedAt = ""
		}
		qm.tasks[task.ID] = task
	}

	for _, id := range state.TaskOrder {
		if _, exists := qm.tasks[id]; exists && !slices.Contains(qm.taskOrder, id) {
			qm.taskOrder = append(qm.taskOrder, id)
		}
	}
	for id := range qm.tasks {
		if !slices.Contains(qm.taskOrder, id) {
			qm.taskOrder = append(qm.taskOrder, id)
		}
	}

	qm.log.Infof("Loaded %d tasks from disk", len(qm.tasks))
	return nil
}

// saveState writes the queue order. Callers hold mu.
func (qm *QueueManager) saveState() error {
	queueFile, _ := qm.getStoragePaths()

	if err := os.MkdirAll(filepath.Dir(queueFile), 0755); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}

	data, err := json.MarshalIndent(QueueState{TaskOrder: qm.taskOrder, IsPaused: qm.isPaused}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue state: %w", err)
	}

	if err := os.WriteFile(queueFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write queue state: %w", err)
	}
	return nil
}

func (qm *QueueManager) saveTask(task *ExportTask) {
	_, tasksDir := qm.getStoragePaths()
	if err := task.SaveToFile(tasksDir); err != nil {
		qm.log.Warnf("Failed to save task %s: %v", task.ID, err)
	}
}

// AddTask appends a task to the queue
func (qm *QueueManager) AddTask(task *ExportTask) error {
	qm.mu.Lock()
	if task.ID == "" {
		task.ID = generateTaskID()
	}
	task.Status = TaskStatusPending

	_, tasksDir := qm.getStoragePaths()
	if err := task.SaveToFile(tasksDir); err != nil {
		qm.mu.Unlock()
		return err
	}
	qm.tasks[task.ID] = task
	qm.taskOrder = append(qm.taskOrder, task.ID)
	err := qm.saveState()
	qm.mu.Unlock()

	qm.log.Infof("Added task: %s (%s)", task.Name, task.ID)
	qm.emitQueueUpdate()
	return err
}

// GetTask returns a copy of a task
func (qm *QueueManager) GetTask(id string) (ExportTask, error) {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	task, exists := qm.tasks[id]
	if !exists {
		return ExportTask{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return *task, nil
}

// GetAllTasks returns copies of all tasks in queue order
func (qm *QueueManager) GetAllTasks() []ExportTask {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	result := make([]ExportTask, 0, len(qm.taskOrder))
	for _, id := range qm.taskOrder {
		result = append(result, *qm.tasks[id])
	}
	return result
}

// DeleteTask removes a task that is not running
func (qm *QueueManager) DeleteTask(id string) error {
	qm.mu.Lock()
	task, exists := qm.tasks[id]
	if !exists {
		qm.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Status == TaskStatusRunning {
		qm.mu.Unlock()
		return fmt.Errorf("%w: cancel it first", ErrTaskRunning)
	}

	qm.taskOrder = slices.DeleteFunc(qm.taskOrder, func(taskID string) bool { return taskID == id })
	delete(qm.tasks, id)

	_, tasksDir := qm.getStoragePaths()
	if err := task.DeleteFile(tasksDir); err != nil && !os.IsNotExist(err) {
		qm.log.Warnf("Failed to delete task file %s: %v", id, err)
	}
	err := qm.saveState()
	qm.mu.Unlock()

	qm.log.Infof("Deleted task: %s", id)
	qm.emitQueueUpdate()
	return err
}

// CancelTask cancels a pending task or stops the running one
func (qm *QueueManager) CancelTask(id string) error {
	qm.mu.Lock()
	task, exists := qm.tasks[id]
	if !exists {
		qm.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Status.Finished() {
		qm.mu.Unlock()
		return ErrTaskFinished
	}

	task.MarkCancelled()
	if qm.currentTask == task && qm.cancelCurrent != nil {
		qm.cancelCurrent()
	}
	qm.saveTask(task)
	qm.mu.Unlock()

	qm.log.Infof("Cancelled task: %s", id)
	qm.emitQueueUpdate()
	return nil
}

// StartQueue begins processing pending tasks
func (qm *QueueManager) StartQueue() error {
	qm.mu.Lock()
	if qm.isRunning && !qm.isPaused {
		qm.mu.Unlock()
		return ErrQueueRunning
	}

	qm.isRunning = true
	qm.isPaused = false
	if err := qm.saveState(); err != nil {
		qm.log.Warnf("%v", err)
	}
	if !qm.workerActive {
		qm.workerActive = true
		qm.workerWg.Add(1)
		go qm.worker()
	}
	qm.mu.Unlock()

	qm.log.Info("Queue started")
	qm.emitQueueUpdate()
	return nil
}

// PauseQueue stops the queue after the current task completes
func (qm *QueueManager) PauseQueue() error {
	qm.mu.Lock()
	if !qm.isRunning {
		qm.mu.Unlock()
		return ErrQueueNotActive
	}
	qm.isPaused = true
	if err := qm.saveState(); err != nil {
		qm.log.Warnf("%v", err)
	}
	qm.mu.Unlock()

	qm.log.Info("Queue paused (will stop after current task)")
	qm.emitQueueUpdate()
	return nil
}

// StopQueue stops the queue and cancels the running task
func (qm *QueueManager) StopQueue() {
	qm.mu.Lock()
	qm.isRunning = false
	qm.isPaused = false
	if qm.cancelCurrent != nil {
		qm.cancelCurrent()
	}
	qm.mu.Unlock()

	qm.emitQueueUpdate()
}

// GetStatus returns the current queue status
func (qm *QueueManager) GetStatus() QueueStatus {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	return qm.statusLocked()
}

func (qm *QueueManager) statusLocked() QueueStatus {
	status := QueueStatus{
		IsRunning:  qm.isRunning,
		IsPaused:   qm.isPaused,
		TotalTasks: len(qm.tasks),
	}
	for _, task := range qm.tasks {
		switch task.Status {
		case TaskStatusCompleted:
			status.CompletedTasks++
		case TaskStatusPending:
			status.PendingTasks++
		}
	}
	if qm.currentTask != nil {
		status.CurrentTaskID = qm.currentTask.ID
	}
	return status
}

// nextPending returns the first pending task in queue order. Callers hold mu.
func (qm *QueueManager) nextPending() *ExportTask {
	for _, id := range qm.taskOrder {
		if task := qm.tasks[id]; task.Status == TaskStatusPending {
			return task
		}
	}
	return nil
}

// worker processes tasks in the background until the queue is empty, paused or stopped
func (qm *QueueManager) worker() {
	defer qm.workerWg.Done()
	qm.log.Debug("Worker started")
	defer qm.log.Debug("Worker stopped")

	for {
		qm.mu.Lock()
		if !qm.isRunning || qm.isPaused {
			qm.workerActive = false
			qm.mu.Unlock()
			return
		}

		task := qm.nextPending()
		if task == nil {
			qm.isRunning = false
			qm.workerActive = false
			if err := qm.saveState(); err != nil {
				qm.log.Warnf("%v", err)
			}
			qm.mu.Unlock()
			qm.log.Info("Queue complete")
			qm.emitQueueUpdate()
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		qm.currentTask = task
		qm.cancelCurrent = cancel
		task.MarkStarted()
		qm.saveTask(task)
		snapshot := *task
		executor := qm.executor
		onProgress, onComplete := qm.onTaskProgress, qm.onTaskComplete
		qm.mu.Unlock()

		qm.emitQueueUpdate()
		qm.log.Infof("Executing task: %s (%s)", task.Name, task.ID)

		progressChan := make(chan TaskProgress, 10)
		forwarded := make(chan struct{})
		go func() {
			defer close(forwarded)
			for progress := range progressChan {
				qm.mu.Lock()
				task.Progress = progress
				qm.mu.Unlock()
				if onProgress != nil {
					onProgress(task.ID, progress)
				}
			}
		}()

		var output string
		var execErr error
		if executor != nil {
			output, execErr = executor.ExecuteExportTask(ctx, snapshot, progressChan)
		} else {
			execErr = errors.New("no executor configured")
		}
		close(progressChan)
		<-forwarded
		cancelled := ctx.Err() != nil
		cancel()

		qm.mu.Lock()
		switch {
		case execErr == nil:
			task.MarkCompleted(output)
			qm.log.Infof("Task completed: %s", task.ID)
		case cancelled:
			task.MarkCancelled()
		default:
			task.MarkFailed(execErr)
			qm.log.Errorf("Task failed: %s - %v", task.ID, execErr)
		}
		qm.saveTask(task)
		qm.currentTask = nil
		qm.cancelCurrent = nil
		qm.mu.Unlock()

		if onComplete != nil {
			onComplete(task.ID, execErr == nil, execErr)
		}
		qm.emitQueueUpdate()
	}
}

func (qm *QueueManager) emitQueueUpdate() {
	qm.mu.Lock()
	fn := qm.onQueueUpdate
	status := qm.statusLocked()
	qm.mu.Unlock()
	if fn != nil {
		fn(status)
	}
}

// ClearCompleted removes all finished tasks
func (qm *QueueManager) ClearCompleted() {
	qm.mu.Lock()
	_, tasksDir := qm.getStoragePaths()

	qm.taskOrder = slices.DeleteFunc(qm.taskOrder, func(id string) bool {
		task := qm.tasks[id]
		if !task.Status.Finished() {
			return false
		}
		if err := task.DeleteFile(tasksDir); err != nil && !os.IsNotExist(err) {
			qm.log.Warnf("Failed to delete task file %s: %v", id, err)
		}
		delete(qm.tasks, id)
		return true
	})
	if err := qm.saveState(); err != nil {
		qm.log.Warnf("%v", err)
	}
	qm.mu.Unlock()

	qm.log.Info("Cleared completed/failed/cancelled tasks")
	qm.emitQueueUpdate()
}

// Close stops the queue and waits for the worker
func (qm *QueueManager) Close() {
	qm.StopQueue()
	qm.workerWg.Wait()
}
