package cli

import (
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/taskstream/client"
	"github.com/GoCodeAlone/taskstream/stream"
	"github.com/GoCodeAlone/taskstream/task"
)

func newRunCmd() *cobra.Command {
	var (
		mode       string
		datasource string
		noCache    bool
	)

	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Start a task and follow its progress stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := envFrom(cmd.Context())
			eng, err := client.New(e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer eng.Shutdown()

			req := stream.InitRequest{}
			if datasource != "" {
				req.FilterDatasource = &datasource
			}
			if noCache {
				use := false
				req.UseCache = &use
			}

			id, err := eng.CreateTaskWith(cmd.Context(), args[0], task.Mode(mode), req)
			if err != nil {
				return err
			}
			cmd.Printf("task %s started\n", id)
			return follow(cmd, eng, id)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(task.ModeResearch), "execution mode (research, report, quick)")
	cmd.Flags().StringVar(&datasource, "datasource", "", "restrict the task to one datasource")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the backend's result cache")
	return cmd
}
