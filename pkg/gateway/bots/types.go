package bots

import (
	"context"
	"time"

	"github.com/vango-go/vai-rooms/pkg/gateway/bots/registry"
)

// Room is an externally provisioned video room plus an access token for it.
// The orchestrator never owns or deletes rooms; expiry is the provider's job.
type Room struct {
	Name      string
	URL       string
	Token     string
	CreatedAt time.Time
}

type Provisioner interface {
	Provision(ctx context.Context) (Room, error)
}

type Launcher interface {
	Launch(roomURL, token string) (*registry.Handle, error)
	Variant() string
}

// Session is the result of a successful Start.
type Session struct {
	Room     Room
	WorkerID int
	Variant  string
}

type WorkerInfo struct {
	WorkerID  int             `json:"worker_id"`
	RoomURL   string          `json:"room_url"`
	Variant   string          `json:"variant"`
	Status    registry.Status `json:"status"`
	ExitCode  *int            `json:"exit_code,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// WorkerWatch follows one worker through exit. It holds the worker's handle,
// so Info stays accurate after Reap or the shutdown sweep drop the registry
// entry.
type WorkerWatch struct {
	Done <-chan struct{}
	Info func() WorkerInfo
}
