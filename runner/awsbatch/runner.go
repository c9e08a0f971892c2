// Package awsbatch submits and tracks jobs on AWS Batch.
package awsbatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"

	"github.com/fbrundu/batchmast"
)

func NewRunner(client *batch.Client) *Runner {
	return &Runner{client: client}
}

type Runner struct {
	client *batch.Client
}

func (r *Runner) Submit(ctx context.Context, job batchmast.Job) (string, error) {
	out, err := r.client.SubmitJob(ctx, &batch.SubmitJobInput{
		JobName:       aws.String(job.Name),
		JobQueue:      aws.String(job.Queue),
		JobDefinition: aws.String(job.Definition),
		ContainerOverrides: &types.ContainerOverrides{
			Command: job.Command,
		},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.JobId), nil
}

func (r *Runner) Status(ctx context.Context, jobID string) (batchmast.JobStatus, error) {
	out, err := r.client.DescribeJobs(ctx, &batch.DescribeJobsInput{
		Jobs: []string{jobID},
	})
	if err != nil {
		return "", err
	}
	if len(out.Jobs) == 0 {
		return "", fmt.Errorf("no such job: %s", jobID)
	}
	return batchmast.JobStatus(out.Jobs[0].Status), nil
}
