package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <job-id>",
		Short: "Stop a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			record, err := s.mgr.Stop(args[0])
			if err != nil {
				return fmt.Errorf("stop: %w", err)
			}
			if record == nil {
				return fmt.Errorf("no such job: %s", args[0])
			}

			fmt.Printf("job_id: %s\n", record.JobID)
			fmt.Printf("status: %s\n", record.Status)
			return nil
		},
	}
}
