package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yegors/transcribe-gateway/internal/api"
	"github.com/yegors/transcribe-gateway/internal/pipeline"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <url>",
		Short: "Extract audio from a URL, upload it and start a recognition job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), func(svc api.Service) error {
				result, err := svc.Submit(cmd.Context(), pipeline.SourceRequest{SourceURL: args[0]})
				if err != nil {
					_, body := api.SubmitErrorResponse(err)
					if werr := writeJSON(cmd, body); werr != nil {
						return werr
					}
					return fmt.Errorf("submission failed: %s", pipeline.Message(err))
				}
				return writeJSON(cmd, api.SubmitResponse(result))
			})
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Query a recognition job once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), func(svc api.Service) error {
				st, err := svc.Status(cmd.Context(), args[0])
				if err != nil {
					_, body := api.StatusErrorResponse(err)
					if werr := writeJSON(cmd, body); werr != nil {
						return werr
					}
					return fmt.Errorf("status query failed: %s", pipeline.Message(err))
				}
				return writeJSON(cmd, api.StatusResponse(st))
			})
		},
	}
}

func newWaitCommand(ctx *commandContext) *cobra.Command {
	var interval time.Duration
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait <job-id>",
		Short: "Poll a recognition job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			runCtx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(runCtx, timeout)
				defer cancel()
			}
			return ctx.withService(runCtx, func(svc api.Service) error {
				st, err := waitForJob(runCtx, svc, args[0], interval, func(err error) {
					fmt.Fprintf(cmd.ErrOrStderr(), "status query failed, retrying: %s\n", pipeline.Message(err))
				})
				if err != nil {
					return err
				}
				if err := writeJSON(cmd, api.StatusResponse(st)); err != nil {
					return err
				}
				if st.State == pipeline.StateFailed {
					return fmt.Errorf("job failed: %s", pipeline.Message(st.Cause))
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "Time between status queries")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits forever)")
	return cmd
}

// waitForJob polls until the job leaves the processing state. Poll errors are
// retryable and reported through onPollError; any other error stops the wait.
func waitForJob(ctx context.Context, svc api.Service, handle string, interval time.Duration, onPollError func(error)) (*pipeline.JobStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := svc.Status(ctx, handle)
		switch {
		case err == nil && st.State != pipeline.StateProcessing:
			return st, nil
		case err != nil && errors.Is(err, pipeline.ErrPollFailed):
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if onPollError != nil {
				onPollError(err)
			}
		case err != nil:
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
