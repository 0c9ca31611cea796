package tools

import (
	"context"
	"fmt"
)

// notificationPoster delivers operator-facing notifications. Satisfied by
// notify.Service.
type notificationPoster interface {
	PostNotification(ctx context.Context, severity, component, title, body string) error
}

// NotifyAdapter lets agents raise operator notifications through the same
// sinks the orchestrator uses, with the same suppression window.
type NotifyAdapter struct {
	poster notificationPoster
}

// NewNotifyAdapter wraps the notification service as a tool.
func NewNotifyAdapter(poster notificationPoster) *NotifyAdapter {
	return &NotifyAdapter{poster: poster}
}

// Register adds the notification tool to the catalog.
func (a *NotifyAdapter) Register(c *Catalog) {
	c.MustRegister(Descriptor{
		Name:         "post_notification",
		Description:  "Notify on-call operators. Duplicate notifications for the same component and severity are suppressed for fifteen minutes.",
		Category:     CategoryWrite,
		TargetSystem: "notify",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"severity":  {Type: "string", Description: "Notification severity", Enum: []string{"info", "warning", "critical"}},
				"component": {Type: "string", Description: "Affected component, e.g. api-gateway"},
				"title":     {Type: "string", Description: "One-line summary"},
				"body":      {Type: "string", Description: "Details for the operator"},
			},
			Required: []string{"severity", "component", "title"},
		},
	}, a.postNotification)
}

func (a *NotifyAdapter) postNotification(ctx context.Context, args map[string]any) (*Result, error) {
	severity := StringArg(args, "severity")
	component := StringArg(args, "component")
	title := StringArg(args, "title")

	err := a.poster.PostNotification(ctx, severity, component, title, StringArg(args, "body"))
	if err != nil {
		return nil, AsToolError(err)
	}
	return TextResult(fmt.Sprintf("notification sent (%s, %s)", severity, component)), nil
}
