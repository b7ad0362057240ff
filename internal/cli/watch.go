package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/taskstream/client"
	"github.com/GoCodeAlone/taskstream/task"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Attach to an existing task's stream and follow it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := envFrom(cmd.Context())
			eng, err := client.New(e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer eng.Shutdown()

			if err := eng.Rehydrate(cmd.Context()); err != nil {
				e.logger.Warn("rehydrate failed", "err", err)
			}

			detach, err := eng.Attach(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer detach()

			return follow(cmd, eng, args[0])
		},
	}
	return cmd
}

// follow prints the task's steps as they stream in, answers human-in-loop
// prompts from stdin, and returns when the task reaches a terminal state.
func follow(cmd *cobra.Command, eng *client.Engine, taskID string) error {
	ctx := cmd.Context()
	stdin := bufio.NewScanner(cmd.InOrStdin())

	changed := make(chan struct{}, 1)
	unsub := eng.Store().Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsub()

	printed := 0
	answered := ""
	for {
		t, ok := eng.Store().Get(taskID)
		if !ok {
			return fmt.Errorf("task %s was deleted", taskID)
		}

		if printed > len(t.Steps) {
			// Step list was replaced by an authoritative replay.
			printed = 0
		}
		for _, s := range t.Steps[printed:] {
			cmd.Printf("  [%s] %s (%s)\n", s.Stage, s.Action, s.Outcome)
		}
		printed = len(t.Steps)

		switch t.Status {
		case task.StatusCompleted:
			cmd.Printf("\n%s\n", t.Report)
			return nil
		case task.StatusError:
			return fmt.Errorf("task failed: %s", t.Error)
		case task.StatusHumanInLoop:
			if t.HumanRequest != nil && t.HumanRequest.Message != answered {
				cmd.Printf("\ninput needed: %s\n> ", t.HumanRequest.Message)
				if !stdin.Scan() {
					return fmt.Errorf("stdin closed while task awaited input")
				}
				answered = t.HumanRequest.Message
				resp := strings.TrimSpace(stdin.Text())
				if err := eng.SubmitHumanResponse(taskID, resp); err != nil {
					return err
				}
			}
		}

		if notice, ok := eng.Notice(); ok {
			cmd.PrintErrf("warning: %s\n", notice)
			eng.ClearNotice()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}
