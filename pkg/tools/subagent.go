package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/corvidae/relay/pkg/bus"
	"github.com/corvidae/relay/pkg/logger"
	"github.com/corvidae/relay/pkg/providers"
)

var (
	ErrSubagentTaskNotFound = errors.New("subagent task not found")
	ErrSubagentNotRunning   = errors.New("subagent task is not running")
)

// SubagentTask tracks one background task spawned by the spawn tool.
type SubagentTask struct {
	ID            string
	Task          string
	Label         string
	OriginChannel string
	OriginChatID  string
	Status        string // running|completed|failed|cancelled
	Result        string
	Created       time.Time

	cancel context.CancelFunc
}

// SubagentManager runs background agent turns that report back onto the
// message bus once finished, independent of the main agent's own turn.
type SubagentManager struct {
	mu        sync.RWMutex
	tasks     map[string]*SubagentTask
	provider  providers.LLMProvider
	model     string
	workspace string
	bus       *bus.MessageBus
	tools     *ToolRegistry
	nextID    int
}

// NewSubagentManager creates a manager sharing the given provider/model for
// every background turn it spawns.
func NewSubagentManager(provider providers.LLMProvider, model, workspace string, msgBus *bus.MessageBus) *SubagentManager {
	return &SubagentManager{
		tasks:     make(map[string]*SubagentTask),
		provider:  provider,
		model:     model,
		workspace: workspace,
		bus:       msgBus,
		nextID:    1,
	}
}

// SetTools installs the registry background turns call tools against. It is
// deliberately excluded from the main agent's own spawn/subagent tools to
// avoid recursive spawning.
func (sm *SubagentManager) SetTools(registry *ToolRegistry) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.tools = registry
}

// Spawn starts a background turn and returns immediately with a task id.
func (sm *SubagentManager) Spawn(ctx context.Context, task, label, originChannel, originChatID string) (string, error) {
	sm.mu.Lock()
	taskID := fmt.Sprintf("subagent-%d", sm.nextID)
	sm.nextID++

	runCtx, cancel := context.WithCancel(context.Background())
	t := &SubagentTask{
		ID:            taskID,
		Task:          task,
		Label:         label,
		OriginChannel: originChannel,
		OriginChatID:  originChatID,
		Status:        "running",
		Created:       time.Now(),
		cancel:        cancel,
	}
	sm.tasks[taskID] = t
	sm.mu.Unlock()

	go sm.runTask(runCtx, t)

	return taskID, nil
}

func (sm *SubagentManager) runTask(ctx context.Context, task *SubagentTask) {
	messages := []providers.Message{
		{Role: "system", Content: sm.systemPrompt()},
		{Role: "user", Content: task.Task},
	}

	model := sm.model
	if model == "" {
		model = sm.provider.GetDefaultModel()
	}

	result, err := RunToolLoop(ctx, ToolLoopConfig{
		Provider:      sm.provider,
		Model:         model,
		Tools:         sm.tools,
		MaxIterations: 10,
		LLMOptions: map[string]any{
			"max_tokens":  4096,
			"temperature": 0.3,
		},
	}, messages, task.OriginChannel, task.OriginChatID)

	sm.mu.Lock()
	if err != nil {
		task.Status = "failed"
		task.Result = fmt.Sprintf("error: %v", err)
	} else if ctx.Err() != nil {
		task.Status = "cancelled"
	} else {
		task.Status = "completed"
		task.Result = result.Content
	}
	status, label, out := task.Status, task.Label, task.Result
	sm.mu.Unlock()

	if sm.bus == nil || status == "cancelled" {
		return
	}
	if label == "" {
		label = task.ID
	}
	sm.bus.PublishInbound(bus.InboundMessage{
		Channel:  "system",
		SenderID: fmt.Sprintf("subagent:%s", task.ID),
		ChatID:   fmt.Sprintf("%s:%s", task.OriginChannel, task.OriginChatID),
		Content:  fmt.Sprintf("Task '%s' completed.\n\nResult:\n%s", label, out),
		Metadata: map[string]string{
			"subagent_event":   "complete",
			"subagent_task_id": task.ID,
		},
	})
}

func (sm *SubagentManager) systemPrompt() string {
	parts := []string{
		"You are a background subagent working for the main agent.",
		"Rules:",
		"1. Use tools when you need to perform an action.",
		"2. Do NOT message the end user directly.",
		"3. When finished, provide a clear result and include any artifact file paths.",
	}
	if sm.workspace != "" {
		parts = append(parts, fmt.Sprintf("Workspace: %s", sm.workspace))
	}
	return strings.Join(parts, "\n")
}

// GetTask returns a snapshot of one task's state.
func (sm *SubagentManager) GetTask(taskID string) (*SubagentTask, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	t, ok := sm.tasks[taskID]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// ListTasks returns a snapshot of every known task.
func (sm *SubagentManager) ListTasks() []*SubagentTask {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]*SubagentTask, 0, len(sm.tasks))
	for _, t := range sm.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// Cancel requests a running task stop. It does not guarantee the
// in-progress provider call returns immediately.
func (sm *SubagentManager) Cancel(taskID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	t, ok := sm.tasks[taskID]
	if !ok {
		return ErrSubagentTaskNotFound
	}
	if t.Status != "running" {
		return ErrSubagentNotRunning
	}
	if t.cancel != nil {
		t.cancel()
	}
	t.Status = "cancelled"
	return nil
}

// ---------------------------------------------------------------------------
// SpawnTool — fire-and-forget background task management
// ---------------------------------------------------------------------------

// SpawnTool lets the main agent launch, inspect, list, and cancel
// background subagent tasks.
type SpawnTool struct {
	manager *SubagentManager
	channel string
	chatID  string
}

func NewSpawnTool(manager *SubagentManager) *SpawnTool {
	return &SpawnTool{manager: manager}
}

func (t *SpawnTool) Name() string { return "spawn" }

func (t *SpawnTool) Description() string {
	return "Manage background subagent tasks. Use action='spawn' for long multi-step work. Use action='status' to check one task, action='list' to view tasks, and action='cancel' to stop a running task."
}

func (t *SpawnTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"spawn", "status", "list", "cancel"},
				"description": "Operation to perform. Defaults to 'spawn' if omitted.",
			},
			"task": map[string]interface{}{
				"type":        "string",
				"description": "Task for the subagent to complete (required for action='spawn')",
			},
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Optional short label for the task",
			},
			"task_id": map[string]interface{}{
				"type":        "string",
				"description": "Task ID (required for action='status' and action='cancel')",
			},
			"include_completed": map[string]interface{}{
				"type":        "boolean",
				"description": "For action='list': include completed/failed/cancelled tasks (default false)",
			},
		},
	}
}

func (t *SpawnTool) SetContext(channel, chatID string) {
	t.channel, t.chatID = channel, chatID
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	if t.manager == nil {
		return ErrorResult("subagent manager not configured")
	}

	action, _ := args["action"].(string)
	if action == "" {
		action = "spawn"
	}

	switch strings.ToLower(action) {
	case "spawn":
		task, _ := args["task"].(string)
		if strings.TrimSpace(task) == "" {
			return ErrorResult("task is required for action=spawn")
		}
		label, _ := args["label"].(string)
		channel, chatID := t.channel, t.chatID
		if channel == "" {
			channel = "cli"
		}
		if chatID == "" {
			chatID = "direct"
		}
		taskID, err := t.manager.Spawn(ctx, task, label, channel, chatID)
		if err != nil {
			return ErrorResultf("failed to spawn subagent: %v", err)
		}
		if label != "" {
			return SilentResult(fmt.Sprintf("Spawned subagent '%s' (id: %s) for task: %s", label, taskID, task))
		}
		return SilentResult(fmt.Sprintf("Spawned subagent (id: %s) for task: %s", taskID, task))

	case "status":
		taskID, _ := args["task_id"].(string)
		if strings.TrimSpace(taskID) == "" {
			return ErrorResult("task_id is required for action=status")
		}
		task, ok := t.manager.GetTask(taskID)
		if !ok {
			return SilentResult(fmt.Sprintf("Task %s not found", taskID))
		}
		return SilentResult(formatSubagentTask(task))

	case "cancel":
		taskID, _ := args["task_id"].(string)
		if strings.TrimSpace(taskID) == "" {
			return ErrorResult("task_id is required for action=cancel")
		}
		err := t.manager.Cancel(taskID)
		if err != nil {
			switch {
			case errors.Is(err, ErrSubagentTaskNotFound):
				return SilentResult(fmt.Sprintf("Task %s not found", taskID))
			case errors.Is(err, ErrSubagentNotRunning):
				if task, ok := t.manager.GetTask(taskID); ok {
					return SilentResult(fmt.Sprintf("Task %s is not running (status: %s)", taskID, task.Status))
				}
				return SilentResult(fmt.Sprintf("Task %s is not running", taskID))
			default:
				return ErrorResult(err.Error())
			}
		}
		return SilentResult(fmt.Sprintf("Cancellation requested for task %s", taskID))

	case "list":
		includeCompleted, _ := args["include_completed"].(bool)
		tasks := t.manager.ListTasks()
		lines := make([]string, 0, len(tasks))
		for _, task := range tasks {
			if !includeCompleted {
				switch task.Status {
				case "completed", "failed", "cancelled":
					continue
				}
			}
			lines = append(lines, formatSubagentTask(task))
		}
		if len(lines) == 0 {
			if includeCompleted {
				return SilentResult("No subagent tasks.")
			}
			return SilentResult("No running subagent tasks.")
		}
		return SilentResult(strings.Join(lines, "\n\n"))

	default:
		return ErrorResultf("unknown action: %s", action)
	}
}

func formatSubagentTask(task *SubagentTask) string {
	label := task.Label
	if label == "" {
		label = task.ID
	}
	result := task.Result
	if strings.TrimSpace(result) == "" {
		result = "(no result yet)"
	}
	if len(result) > 200 {
		result = result[:200] + "…"
	}
	return fmt.Sprintf("Task %s\nID: %s\nStatus: %s\nResult: %s", label, task.ID, task.Status, result)
}

// ---------------------------------------------------------------------------
// SubagentTool — synchronous subagent execution
// ---------------------------------------------------------------------------

// SubagentTool runs a background turn and blocks until it finishes, for
// cases where the caller needs the result inline rather than polling via
// SpawnTool.
type SubagentTool struct {
	manager *SubagentManager
	channel string
	chatID  string
}

func NewSubagentTool(manager *SubagentManager) *SubagentTool {
	return &SubagentTool{manager: manager}
}

func (t *SubagentTool) Name() string { return "subagent" }

func (t *SubagentTool) Description() string {
	return "Run a subagent synchronously and wait for its result. Use this for self-contained tasks where you need the answer before continuing, rather than action='spawn' which runs in the background."
}

func (t *SubagentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "Task for the subagent to complete",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SubagentTool) SetContext(channel, chatID string) {
	t.channel, t.chatID = channel, chatID
}

func (t *SubagentTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	if t.manager == nil {
		return ErrorResult("subagent manager not configured")
	}
	task, _ := args["task"].(string)
	if strings.TrimSpace(task) == "" {
		return ErrorResult("task is required")
	}

	t.manager.mu.RLock()
	provider, model, registry := t.manager.provider, t.manager.model, t.manager.tools
	t.manager.mu.RUnlock()
	if model == "" {
		model = provider.GetDefaultModel()
	}

	messages := []providers.Message{
		{Role: "system", Content: t.manager.systemPrompt()},
		{Role: "user", Content: task},
	}

	logger.InfoCF("subagent", "running synchronous subagent", map[string]interface{}{"task": task})

	result, err := RunToolLoop(ctx, ToolLoopConfig{
		Provider:      provider,
		Model:         model,
		Tools:         registry,
		MaxIterations: 10,
		LLMOptions: map[string]any{
			"max_tokens":  4096,
			"temperature": 0.3,
		},
	}, messages, t.channel, t.chatID)
	if err != nil {
		return ErrorResultf("subagent failed: %v", err)
	}
	return SilentResult(result.Content)
}
