package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/sjson"

	"taskpilot/app/core/orchestrator/task"
	"taskpilot/app/pkg/types"
)

// The closed set of tools exposed to the model. Adding or removing one
// is a compile-time change: dispatch happens on these names only.
const (
	ToolAddTask      = "add_task"
	ToolListTasks    = "list_tasks"
	ToolUpdateTask   = "update_task"
	ToolCompleteTask = "complete_task"
	ToolDeleteTask   = "delete_task"
)

// Error codes surfaced inside results. The dispatcher never returns a Go
// error across its boundary.
const (
	ErrCodeValidation    = "validation_error"
	ErrCodeNotFound      = "not_found"
	ErrCodePermission    = "permission_denied"
	ErrCodeMultipleMatch = "multiple_matches"
	ErrCodeMissingParams = "missing_parameters"
)

const maxAmbiguousCandidates = 5

type Result struct {
	Success bool       `json:"success"`
	TaskID  int64      `json:"task_id,omitempty"`
	Title   string     `json:"title,omitempty"`
	Status  string     `json:"status,omitempty"`
	Tasks   []TaskView `json:"tasks,omitempty"`
	Message string     `json:"message"`
	Error   string     `json:"error,omitempty"`
}

// TaskView is the compact projection handed back to the model.
type TaskView struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// Call is a tool-call intent as emitted by the model: a name plus the
// raw argument JSON, taken on trust apart from the owner id.
type Call struct {
	ID        string
	Name      string
	Arguments string
}

// ExecutedCall is the persisted record of one execution. Arguments carry
// the server-side owner id injected over whatever the model supplied.
type ExecutedCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Result    Result          `json:"result"`
}

type Dispatcher struct {
	tasks *task.Store
}

func NewDispatcher(tasks *task.Store) *Dispatcher {
	return &Dispatcher{tasks: tasks}
}

// Execute runs one tool call on behalf of owner. The owner id always
// comes from the caller, never from the model's arguments.
func (d *Dispatcher) Execute(ctx context.Context, owner types.OwnerID, call Call) ExecutedCall {
	args := strings.TrimSpace(call.Arguments)
	if args == "" {
		args = "{}"
	}

	result := d.dispatch(ctx, owner.Normalize(), call.Name, args)

	recorded, err := sjson.Set(args, "user_id", owner.String())
	if err != nil {
		recorded = args
	}
	return ExecutedCall{
		Name:      call.Name,
		Arguments: json.RawMessage(recorded),
		Result:    result,
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, owner types.OwnerID, name string, args string) Result {
	switch name {
	case ToolAddTask:
		return d.addTask(ctx, owner, parseAddParams(args))
	case ToolListTasks:
		return d.listTasks(ctx, owner, parseListParams(args))
	case ToolUpdateTask:
		return d.updateTask(ctx, owner, parseUpdateParams(args))
	case ToolCompleteTask:
		return d.completeTask(ctx, owner, parseCompleteParams(args))
	case ToolDeleteTask:
		return d.deleteTask(ctx, owner, parseDeleteParams(args))
	default:
		return Result{
			Success: false,
			Error:   ErrCodeValidation,
			Message: fmt.Sprintf("Unknown tool: %s", name),
		}
	}
}

func (d *Dispatcher) addTask(ctx context.Context, owner types.OwnerID, p addParams) Result {
	if p.Title == "" {
		return Result{
			Success: false,
			Error:   ErrCodeValidation,
			Message: "A title is required to create a task.",
		}
	}

	created, err := d.tasks.Create(ctx, owner, task.CreateInput{
		Title:       p.Title,
		Description: p.Description,
		Status:      task.StatusPending,
	})
	if err != nil {
		if errors.Is(err, task.ErrInvalid) {
			return Result{Success: false, Error: ErrCodeValidation, Message: err.Error()}
		}
		return failure(err, "create the task")
	}

	return Result{
		Success: true,
		TaskID:  created.ID,
		Title:   created.Title,
		Status:  created.Status,
		Message: fmt.Sprintf("Task %q has been created successfully!", created.Title),
	}
}

func (d *Dispatcher) listTasks(ctx context.Context, owner types.OwnerID, p listParams) Result {
	filter := task.Filter{SortBy: "created_at", SortOrder: "desc"}
	statusFilter := ""
	if p.HasStatus {
		statusFilter = task.NormalizeStatus(p.Status)
		filter.Status = statusFilter
	}

	items, err := d.tasks.List(ctx, owner, filter)
	if err != nil {
		return failure(err, "list tasks")
	}

	views := make([]TaskView, 0, len(items))
	for _, t := range items {
		views = append(views, TaskView{
			ID:          t.ID,
			Title:       t.Title,
			Description: t.Description,
			Status:      t.Status,
			CreatedAt:   time.Unix(t.CreatedAt, 0).UTC().Format(time.RFC3339),
		})
	}

	suffix := ""
	if statusFilter != "" {
		suffix = fmt.Sprintf(" (%s)", statusFilter)
	}
	if len(views) == 0 {
		return Result{
			Success: true,
			Tasks:   views,
			Message: fmt.Sprintf("You have 0 task(s)%s.", suffix),
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have %d task(s)%s:\n\n", len(views), suffix)
	for i, t := range items {
		fmt.Fprintf(&b, "%d. Title: %s\n", i+1, t.Title)
		if t.Description != "" {
			fmt.Fprintf(&b, "   Description: %s\n", t.Description)
		}
		fmt.Fprintf(&b, "   Status: %s\n", t.Status)
		fmt.Fprintf(&b, "   Created: %s\n\n", time.Unix(t.CreatedAt, 0).UTC().Format("2006-01-02"))
	}

	return Result{
		Success: true,
		Tasks:   views,
		Message: strings.TrimSpace(b.String()),
	}
}

func (d *Dispatcher) updateTask(ctx context.Context, owner types.OwnerID, p updateParams) Result {
	target, byTitle, fail := d.resolveTarget(ctx, owner, p.HasTaskID, p.TaskID, p.HasTitle, p.Title, "update")
	if fail != nil {
		return *fail
	}

	in := task.UpdateInput{}
	if p.HasDescription {
		in.Description = &p.Description
	}
	if p.HasStatus {
		status := task.NormalizeStatus(p.Status)
		in.Status = &status
	}
	// When the title located the task it is a lookup key, not a rename.
	if p.HasTitle && !byTitle {
		in.Title = &p.Title
	}

	updated, err := d.tasks.Update(ctx, target.ID, owner, in)
	if err != nil {
		if errors.Is(err, task.ErrInvalid) {
			return Result{Success: false, Error: ErrCodeValidation, Message: err.Error()}
		}
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundByID(target.ID)
		}
		return failure(err, "update the task")
	}

	return Result{
		Success: true,
		TaskID:  updated.ID,
		Title:   updated.Title,
		Status:  updated.Status,
		Message: fmt.Sprintf("Task %q has been updated successfully!", updated.Title),
	}
}

func (d *Dispatcher) completeTask(ctx context.Context, owner types.OwnerID, p completeParams) Result {
	if !p.HasTaskID {
		return Result{
			Success: false,
			Error:   ErrCodeMissingParams,
			Message: "task_id must be provided to complete a task.",
		}
	}

	target, _, fail := d.resolveTarget(ctx, owner, true, p.TaskID, false, "", "complete")
	if fail != nil {
		return *fail
	}

	status := task.StatusCompleted
	updated, err := d.tasks.Update(ctx, target.ID, owner, task.UpdateInput{Status: &status})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundByID(target.ID)
		}
		return failure(err, "complete the task")
	}

	return Result{
		Success: true,
		TaskID:  updated.ID,
		Title:   updated.Title,
		Status:  updated.Status,
		Message: fmt.Sprintf("Task %q has been marked as completed!", updated.Title),
	}
}

func (d *Dispatcher) deleteTask(ctx context.Context, owner types.OwnerID, p deleteParams) Result {
	target, _, fail := d.resolveTarget(ctx, owner, p.HasTaskID, p.TaskID, p.HasTitle, p.Title, "delete")
	if fail != nil {
		return *fail
	}

	// the row is gone after the delete, so keep what we need for the reply
	deletedID, deletedTitle := target.ID, target.Title

	ok, err := d.tasks.Delete(ctx, target.ID, owner)
	if err != nil {
		return failure(err, "delete the task")
	}
	if !ok {
		return notFoundByID(target.ID)
	}

	return Result{
		Success: true,
		TaskID:  deletedID,
		Title:   deletedTitle,
		Message: fmt.Sprintf("Task %q has been deleted successfully!", deletedTitle),
	}
}

// resolveTarget finds the task a tool call refers to, by id when one was
// given and otherwise by case-insensitive partial title match. A non-nil
// Result means resolution failed and is the final answer.
func (d *Dispatcher) resolveTarget(ctx context.Context, owner types.OwnerID, hasID bool, id int64, hasTitle bool, title string, verb string) (task.Task, bool, *Result) {
	switch {
	case hasID:
		t, err := d.tasks.LookupByID(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			r := notFoundByID(id)
			return task.Task{}, false, &r
		}
		if err != nil {
			r := failure(err, verb+" the task")
			return task.Task{}, false, &r
		}
		if t.OwnerID != owner {
			r := Result{
				Success: false,
				Error:   ErrCodePermission,
				Message: fmt.Sprintf("You don't have permission to %s this task.", verb),
			}
			return task.Task{}, false, &r
		}
		return t, false, nil

	case hasTitle:
		matches, err := d.tasks.FindByTitle(ctx, owner, title)
		if err != nil {
			r := failure(err, verb+" the task")
			return task.Task{}, false, &r
		}
		if len(matches) == 0 {
			r := Result{
				Success: false,
				Error:   ErrCodeNotFound,
				Message: fmt.Sprintf("No task found with title containing %q.", title),
			}
			return task.Task{}, false, &r
		}
		if len(matches) > 1 {
			r := ambiguousResult(title, matches)
			return task.Task{}, false, &r
		}
		return matches[0], true, nil

	default:
		r := Result{
			Success: false,
			Error:   ErrCodeMissingParams,
			Message: fmt.Sprintf("Either task_id or title must be provided to %s a task.", verb),
		}
		return task.Task{}, false, &r
	}
}

func ambiguousResult(title string, matches []task.Task) Result {
	capped := matches
	if len(capped) > maxAmbiguousCandidates {
		capped = capped[:maxAmbiguousCandidates]
	}
	candidates := make([]string, 0, len(capped))
	for _, t := range capped {
		candidates = append(candidates, fmt.Sprintf("'%s' (ID: %d)", t.Title, t.ID))
	}
	return Result{
		Success: false,
		Error:   ErrCodeMultipleMatch,
		Message: fmt.Sprintf("Multiple tasks match %q: %s. Please use the task ID or be more specific.",
			title, strings.Join(candidates, ", ")),
	}
}

func notFoundByID(id int64) Result {
	return Result{
		Success: false,
		Error:   ErrCodeNotFound,
		Message: fmt.Sprintf("Task with ID %d not found.", id),
	}
}

func failure(err error, action string) Result {
	return Result{
		Success: false,
		Error:   err.Error(),
		Message: fmt.Sprintf("Failed to %s: %v", action, err),
	}
}
