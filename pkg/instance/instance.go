package instance

import (
	"os"

	"github.com/angelmondragon/foodops-backend/pkg/env"
)

// GetID names the running process in logs and claim tokens. Explicit ids win
// over the platform dyno name, then the hostname.
func GetID() string {
	if id := env.First("", "FOODOPS_INSTANCE_ID", "WORKER_ID", "DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
