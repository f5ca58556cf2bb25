package tools

import "taskpilot/app/core/llm"

// Definitions returns the callable surface exposed to the model. The
// owner identity is deliberately absent from every schema; the
// dispatcher injects it on execution.
func Definitions() []llm.Tool {
	return []llm.Tool{
		{
			Name:        ToolAddTask,
			Description: "Creates a new task for the current user. Parameters: title (required), description (optional).",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title": map[string]interface{}{
						"type":        "string",
						"description": "Title of the task",
					},
					"description": map[string]interface{}{
						"type":        "string",
						"description": "Description of the task",
					},
				},
				"required": []string{"title"},
			},
		},
		{
			Name:        ToolListTasks,
			Description: "Lists the current user's tasks. Parameters: status (optional) - filter tasks by status, e.g. 'pending', 'in-progress' or 'completed'.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"status": map[string]interface{}{
						"type":        "string",
						"description": "Filter tasks by status (pending, in-progress, completed)",
					},
				},
			},
		},
		{
			Name:        ToolUpdateTask,
			Description: "Updates an existing task. Provide task_id when known; otherwise provide title to find the task by partial match. When the title is the lookup key only description and status are changed. Spoken statuses such as 'in progress' or 'done' are normalized automatically.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"task_id": map[string]interface{}{
						"type":        "integer",
						"description": "ID of the task to update (optional if title is provided to find the task)",
					},
					"title": map[string]interface{}{
						"type":        "string",
						"description": "New title for the task, or the title to find the task by when task_id is absent",
					},
					"description": map[string]interface{}{
						"type":        "string",
						"description": "New description for the task",
					},
					"status": map[string]interface{}{
						"type":        "string",
						"description": "New status for the task",
					},
				},
			},
		},
		{
			Name:        ToolCompleteTask,
			Description: "Marks a task as completed. Parameters: task_id (required).",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"task_id": map[string]interface{}{
						"type":        "integer",
						"description": "ID of the task to mark as completed",
					},
				},
				"required": []string{"task_id"},
			},
		},
		{
			Name:        ToolDeleteTask,
			Description: "Deletes a task. Provide task_id when known; otherwise provide title (exact or partial) to identify the task. task_id wins when both are present.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"task_id": map[string]interface{}{
						"type":        "integer",
						"description": "ID of the task to delete",
					},
					"title": map[string]interface{}{
						"type":        "string",
						"description": "Title of the task to delete (alternative to task_id)",
					},
				},
			},
		},
	}
}
