package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jobsupervisor/jobsupervisor/pkg/idgen"
)

func newRunCmd() *cobra.Command {
	var jobID string
	var cwd string

	cmd := &cobra.Command{
		Use:   "run [flags] -- <command>",
		Short: "Launch a shell command as a tracked job",
		Long: `Launch a shell command as a tracked job. The command runs through the
platform shell, so pipelines, redirections, and shell built-ins work.
Running again with the same --job-id replaces its record and truncates
its logs; a process started by an earlier invocation is not stopped
first (use stop for that).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.Join(args, " ")
			if jobID == "" {
				jobID = idgen.New()
			}

			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			record, err := s.mgr.Run(command, jobID, cwd)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}

			fmt.Printf("job_id: %s\n", record.JobID)
			fmt.Printf("status: %s\n", record.Status)
			fmt.Printf("pid: %d\n", record.LastPID)
			return nil
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "", "job identifier (generated if omitted)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory for the command")
	return cmd
}
