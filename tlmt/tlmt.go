// Package tlmt sends anonymous usage events.
package tlmt

import (
	"context"
	"crypto/sha256"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/host"
)

const EventPipelineTask = "pipeline_task"

var (
	once       sync.Once
	identifier machineIdentifier
)

type Event struct {
	AnonymousID string
	Name        string
	Properties  map[string]any
}

func NewEvent(name string, props map[string]any) Event {
	machine := generateMachineID()

	ev := Event{
		AnonymousID: machine.id,
		Name:        name,
		Properties:  make(map[string]any, len(machine.meta)+len(props)),
	}

	for k, v := range machine.meta {
		ev.Properties[k] = v
	}

	for k, v := range props {
		ev.Properties[k] = v
	}

	return ev
}

// TaskOutcome describes a finished pipeline task. No task input or
// contact data is reported.
type TaskOutcome struct {
	Kind     string
	Status   string
	Stages   int
	Retries  int
	Duration time.Duration
	Failed   bool
}

func NewTaskEvent(o TaskOutcome) Event {
	return NewEvent(EventPipelineTask, map[string]any{
		"kind":        o.Kind,
		"status":      o.Status,
		"stages":      o.Stages,
		"retries":     o.Retries,
		"duration_ms": o.Duration.Milliseconds(),
		"failed":      o.Failed,
	})
}

type Telemetry interface {
	Send(ctx context.Context, event Event) error
	Close() error
}

type machineIdentifier struct {
	id   string
	meta map[string]any
}

func generateMachineID() machineIdentifier {
	once.Do(func() {
		seed, err := host.HostID()
		if err != nil || seed == "" {
			seed = uuid.New().String()
		}

		hash := sha256.New()
		hash.Write([]byte(seed))
		hash.Write([]byte(runtime.GOARCH))
		hash.Write([]byte(runtime.GOOS))

		meta := map[string]any{
			"go_version": runtime.Version(),
		}

		if info, err := host.Info(); err == nil {
			meta["os"] = info.OS
			meta["platform"] = info.Platform
			meta["platform_family"] = info.PlatformFamily
			meta["platform_version"] = info.PlatformVersion
		}

		identifier.id = fmt.Sprintf("%x", hash.Sum(nil))
		identifier.meta = meta
	})

	return identifier
}
