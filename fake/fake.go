// Package fake provides in-memory ObjectStore and JobRunner
// implementations for tests and dry runs.
package fake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fbrundu/batchmast"
)

func NewStore() *Store {
	return &Store{Objects: map[string][]byte{}}
}

// Store keeps uploaded objects in a map. DownloadFunc, when set, can
// serve keys that were never uploaded, e.g. worker-produced results.
type Store struct {
	mx      sync.Mutex
	Objects map[string][]byte

	UploadErr    error
	DownloadFunc func(key string) ([]byte, error)
}

func (s *Store) Upload(_ context.Context, key string, r io.Reader) error {
	if s.UploadErr != nil {
		return s.UploadErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	s.Objects[key] = data
	return nil
}

func (s *Store) Download(_ context.Context, key string) (io.ReadCloser, error) {
	s.mx.Lock()
	data, ok := s.Objects[key]
	s.mx.Unlock()
	if !ok && s.DownloadFunc != nil {
		var err error
		data, err = s.DownloadFunc(key)
		if err != nil {
			return nil, err
		}
		ok = true
	}
	if !ok {
		return nil, fmt.Errorf("no such object: %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Keys lists stored object keys with the given suffix.
func (s *Store) Keys(suffix string) []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	var keys []string
	for key := range s.Objects {
		if strings.HasSuffix(key, suffix) {
			keys = append(keys, key)
		}
	}
	return keys
}

func NewRunner() *Runner {
	return &Runner{statuses: map[string][]batchmast.JobStatus{}}
}

// Runner scripts job lifecycles: each submitted job walks through the
// status sequence configured by Script, one step per Status call,
// sticking at the last one.
type Runner struct {
	mx       sync.Mutex
	nextID   int
	Jobs     []batchmast.Job
	script   []batchmast.JobStatus
	statuses map[string][]batchmast.JobStatus

	SubmitErr error
	StatusErr error
}

// Script sets the status sequence applied to jobs submitted afterwards.
func (r *Runner) Script(statuses ...batchmast.JobStatus) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.script = statuses
}

func (r *Runner) Submit(_ context.Context, job batchmast.Job) (string, error) {
	if r.SubmitErr != nil {
		return "", r.SubmitErr
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	r.nextID++
	jobID := fmt.Sprintf("job-%d", r.nextID)
	r.Jobs = append(r.Jobs, job)
	script := r.script
	if len(script) == 0 {
		script = []batchmast.JobStatus{batchmast.JobSucceeded}
	}
	r.statuses[jobID] = append([]batchmast.JobStatus(nil), script...)
	return jobID, nil
}

func (r *Runner) Status(_ context.Context, jobID string) (batchmast.JobStatus, error) {
	if r.StatusErr != nil {
		return "", r.StatusErr
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	script, ok := r.statuses[jobID]
	if !ok {
		return "", fmt.Errorf("no such job: %s", jobID)
	}
	status := script[0]
	if len(script) > 1 {
		r.statuses[jobID] = script[1:]
	}
	return status, nil
}
