package batchmast

import "context"

type JobRunner interface {
	Submit(ctx context.Context, job Job) (jobID string, err error)
	Status(ctx context.Context, jobID string) (JobStatus, error)
}

type Job struct {
	Name       string
	Queue      string
	Definition string
	Command    []string
}

// JobStatus mirrors the AWS Batch job status set.
type JobStatus string

const (
	JobSubmitted JobStatus = "SUBMITTED"
	JobPending   JobStatus = "PENDING"
	JobRunnable  JobStatus = "RUNNABLE"
	JobStarting  JobStatus = "STARTING"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
)

func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}
