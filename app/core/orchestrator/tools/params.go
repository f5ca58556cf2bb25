package tools

import (
	"strings"

	"github.com/tidwall/gjson"
)

// One typed parameter struct per tool variant. The Has* flags record
// whether the model supplied the field at all, which matters for the
// lookup-vs-rename rule and for partial updates.

type addParams struct {
	Title       string
	Description string
}

type listParams struct {
	Status    string
	HasStatus bool
}

type updateParams struct {
	TaskID         int64
	HasTaskID      bool
	Title          string
	HasTitle       bool
	Description    string
	HasDescription bool
	Status         string
	HasStatus      bool
}

type completeParams struct {
	TaskID    int64
	HasTaskID bool
}

type deleteParams struct {
	TaskID    int64
	HasTaskID bool
	Title     string
	HasTitle  bool
}

func parseAddParams(args string) addParams {
	p := addParams{}
	p.Title, _ = strField(args, "title")
	p.Description, _ = strField(args, "description")
	return p
}

func parseListParams(args string) listParams {
	p := listParams{}
	p.Status, p.HasStatus = strField(args, "status")
	return p
}

func parseUpdateParams(args string) updateParams {
	p := updateParams{}
	p.TaskID, p.HasTaskID = intField(args, "task_id")
	p.Title, p.HasTitle = strField(args, "title")
	p.Status, p.HasStatus = strField(args, "status")
	// an explicitly empty description clears it, so keep raw presence
	if v := gjson.Get(args, "description"); v.Exists() && v.Type != gjson.Null {
		p.Description = v.String()
		p.HasDescription = true
	}
	return p
}

func parseCompleteParams(args string) completeParams {
	p := completeParams{}
	p.TaskID, p.HasTaskID = intField(args, "task_id")
	return p
}

func parseDeleteParams(args string) deleteParams {
	p := deleteParams{}
	p.TaskID, p.HasTaskID = intField(args, "task_id")
	p.Title, p.HasTitle = strField(args, "title")
	return p
}

func strField(args string, key string) (string, bool) {
	v := gjson.Get(args, key)
	if !v.Exists() || v.Type == gjson.Null {
		return "", false
	}
	s := strings.TrimSpace(v.String())
	if s == "" {
		return "", false
	}
	return s, true
}

func intField(args string, key string) (int64, bool) {
	v := gjson.Get(args, key)
	if !v.Exists() || v.Type == gjson.Null {
		return 0, false
	}
	// models occasionally quote numeric ids; gjson coerces either form
	n := v.Int()
	if n <= 0 {
		return 0, false
	}
	return n, true
}
