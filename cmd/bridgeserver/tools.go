package main

import (
	"context"
	"time"

	"google.golang.org/genai"
)

// currentTimeTool is a demo backend tool that reports the server's current
// time. It runs in-process, unlike client tools which the bridge proxies back
// to the frontend.
type currentTimeTool struct{}

func (currentTimeTool) Name() string        { return "get_current_time" }
func (currentTimeTool) Description() string { return "Returns the current server time." }
func (currentTimeTool) IsLongRunning() bool { return false }

func (currentTimeTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        "get_current_time",
		Description: "Returns the current server time.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"timezone": {
					Type:        genai.TypeString,
					Description: "IANA timezone name, e.g. America/New_York. Defaults to UTC.",
				},
			},
		},
	}
}

func (currentTimeTool) Run(_ context.Context, args map[string]any) (map[string]any, error) {
	loc := time.UTC
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		if parsed, err := time.LoadLocation(tz); err == nil {
			loc = parsed
		}
	}
	now := time.Now().In(loc)
	return map[string]any{
		"time":     now.Format(time.RFC3339),
		"timezone": loc.String(),
	}, nil
}
