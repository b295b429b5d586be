package system

import (
	"fmt"
	"os"
	"os/user"
	"runtime"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"
)

// Status is the payload of the system status endpoint.
type Status struct {
	Hostname      string          `json:"hostname"`
	Username      string          `json:"username"`
	OS            string          `json:"os"`
	Arch          string          `json:"arch"`
	NumCPU        int             `json:"num_cpu"`
	Goroutines    int             `json:"goroutines"`
	HeapAllocMB   float64         `json:"heap_alloc_mb"`
	SysMB         float64         `json:"sys_mb"`
	StartedAt     time.Time       `json:"started_at"`
	UptimeSeconds int64           `json:"uptime_s"`
	Services      map[string]bool `json:"services"`
	Error         string          `json:"error,omitempty"`
}

// ProcessLister lists running processes. ps.Processes satisfies it.
type ProcessLister func() ([]ps.Process, error)

// Reporter collects Status snapshots.
type Reporter struct {
	startedAt time.Time
	services  []string
	processes ProcessLister
	now       func() time.Time
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithProcessLister replaces the process source.
func WithProcessLister(list ProcessLister) Option {
	return func(r *Reporter) {
		if list != nil {
			r.processes = list
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReporter creates a reporter checking the given executable names.
func NewReporter(services []string, opts ...Option) *Reporter {
	r := &Reporter{
		services:  services,
		processes: ps.Processes,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	r.startedAt = r.now()

	return r
}

// Status collects the current figures. Failures to read the process list
// or the user are reported in Error; the remaining fields are still filled.
func (r *Reporter) Status() *Status {
	var mem runtime.MemStats

	runtime.ReadMemStats(&mem)

	now := r.now()
	status := &Status{
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		NumCPU:        runtime.NumCPU(),
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   toMB(mem.HeapAlloc),
		SysMB:         toMB(mem.Sys),
		StartedAt:     r.startedAt,
		UptimeSeconds: int64(now.Sub(r.startedAt).Seconds()),
		Services:      make(map[string]bool, len(r.services)),
	}

	var problems []string

	hostname, err := os.Hostname()
	if err != nil {
		problems = append(problems, fmt.Sprintf("hostname: %v", err))
	}

	status.Hostname = hostname

	if currentUser, err := user.Current(); err == nil {
		status.Username = currentUser.Username
	} else {
		problems = append(problems, fmt.Sprintf("current user: %v", err))
	}

	if err = r.checkServices(status.Services); err != nil {
		problems = append(problems, err.Error())
	}

	status.Error = strings.Join(problems, "; ")

	return status
}

// checkServices marks every configured service as running or not.
func (r *Reporter) checkServices(result map[string]bool) error {
	if len(r.services) == 0 {
		return nil
	}

	wanted := sliceToSet(r.services)
	for name := range wanted {
		result[name] = false
	}

	processList, err := r.processes()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	for _, process := range processList {
		name := strings.TrimSuffix(process.Executable(), ".exe")
		if _, ok := wanted[name]; ok {
			result[name] = true
		}
	}

	return nil
}

// toMB converts bytes to mebibytes.
func toMB(b uint64) float64 {
	return float64(b) / (1 << 20)
}

// sliceToSet converts a slice to a set for quick lookups.
func sliceToSet[T comparable](elements []T) map[T]struct{} {
	result := make(map[T]struct{}, len(elements))
	for _, value := range elements {
		result[value] = struct{}{}
	}

	return result
}
