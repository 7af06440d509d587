package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var stderrOnly bool
	var stdoutOnly bool

	cmd := &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Print a job's captured stdout and stderr",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			stdout, stderr, err := s.mgr.JobLogs(args[0])
			if err != nil {
				return fmt.Errorf("no such job: %s", args[0])
			}

			if stdoutOnly {
				fmt.Print(stdout)
				return nil
			}
			if stderrOnly {
				fmt.Print(stderr)
				return nil
			}

			fmt.Println("--- stdout ---")
			fmt.Print(stdout)
			fmt.Println("--- stderr ---")
			fmt.Print(stderr)
			return nil
		},
	}

	cmd.Flags().BoolVar(&stdoutOnly, "stdout", false, "print only stdout")
	cmd.Flags().BoolVar(&stderrOnly, "stderr", false, "print only stderr")
	return cmd
}
