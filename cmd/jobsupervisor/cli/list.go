package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jobsupervisor/jobsupervisor/internal/manager"
)

func newListCmd() *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known jobs and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			var filter manager.Filter
			if statusFilter != "" {
				st := manager.Status(statusFilter)
				filter.Status = &st
			}

			records, err := s.mgr.ListStatus(filter)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}

			ids := make([]string, 0, len(records))
			for id := range records {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			for _, id := range ids {
				r := records[id]
				fmt.Printf("%s\t%s\t%d\t%s\n", r.JobID, r.Status, r.LastPID, r.Command)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "filter by status (e.g. running, finished)")
	return cmd
}
