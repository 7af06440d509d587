package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			record, err := s.mgr.GetStatus(args[0])
			if err != nil {
				return fmt.Errorf("no such job: %s", args[0])
			}

			fmt.Printf("job_id: %s\n", record.JobID)
			fmt.Printf("status: %s\n", record.Status)
			fmt.Printf("command: %s\n", record.Command)
			fmt.Printf("pid: %d\n", record.LastPID)
			fmt.Printf("last_update: %s\n", record.LastUpdate.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}
}
