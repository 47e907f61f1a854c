package server

import (
	"janitor/internal/domain"
	"janitor/internal/preflight"
)

// Request payloads

type FixRequest struct {
	Action string         `json:"action" minLength:"1" example:"cleanup_backups"`
	Params map[string]any `json:"params,omitempty"`
}

type ReviewRequest struct {
	FilePath   string `json:"file_path" minLength:"1" example:"scripts/deploy.sh"`
	NewContent string `json:"new_content"`
}

type ReviewPatchRequest struct {
	Patch string `json:"patch" minLength:"1"`
}

type PreflightRequest struct {
	Isolated         bool   `json:"isolated,omitempty"`
	SkipOAuth        bool   `json:"skip_oauth,omitempty"`
	OpenBrowser      bool   `json:"open_browser,omitempty"`
	AllowDestructive bool   `json:"allow_destructive,omitempty"`
	APIBase          string `json:"api_base,omitempty" example:"http://127.0.0.1:8080"`
}

func (r PreflightRequest) config() preflight.Config {
	return preflight.Config{
		Isolated:         r.Isolated,
		SkipOAuth:        r.SkipOAuth,
		OpenBrowser:      r.OpenBrowser,
		AllowDestructive: r.AllowDestructive,
		APIBase:          r.APIBase,
	}
}

type SnapshotRequest struct {
	Label string `json:"label,omitempty" maxLength:"40" example:"pre-upgrade"`
}

type AppendEditRequest struct {
	File    string `json:"file" minLength:"1"`
	Agent   string `json:"agent,omitempty"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

type HeartbeatRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

type PreflightResponse struct {
	Result domain.PreflightResult `json:"result"`
}

type CleanupResponse struct {
	Deleted int `json:"deleted"`
	Kept    int `json:"kept"`
}
