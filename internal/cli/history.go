package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/termcoder/tc/internal/domain"
	"github.com/termcoder/tc/internal/persistence"
)

// HistoryCmd reads the append-only event log.
func HistoryCmd() *cobra.Command {
	var taskID string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pc, err := openProject(ctx)
			if err != nil {
				return err
			}
			defer pc.close()

			filter := persistence.EventFilter{ProjectID: pc.project.ID, Limit: limit}
			if taskID != "" {
				filter.EntityType = domain.EntityTask
				filter.EntityID = taskID
			}
			evs, err := pc.store.ReadEvents(ctx, filter)
			if err != nil {
				return err
			}
			for _, ev := range evs {
				ts := ev.CreatedAt.Format("2006-01-02 15:04:05")
				kind := string(ev.Kind)
				switch ev.Kind {
				case domain.EventError:
					kind = color.RedString(kind)
				case domain.EventStatusChange:
					kind = color.YellowString(kind)
				case domain.EventReviewVerdict:
					kind = color.CyanString(kind)
				}
				line := fmt.Sprintf("%d %s [%s] %s %s", ev.ID, ts, kind, ev.EntityType, ev.EntityID)
				if ev.NewValue != "" {
					if ev.OldValue != "" {
						line += fmt.Sprintf(" %s -> %s", ev.OldValue, ev.NewValue)
					} else {
						line += " " + ev.NewValue
					}
				}
				if ev.Payload != "" {
					line += " " + ev.Payload
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "only events for this task")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to print")
	return cmd
}

// RespondCmd records the operator's answer to a pending human-input request.
func RespondCmd() *cobra.Command {
	var requestID, message string

	cmd := &cobra.Command{
		Use:   "respond",
		Short: "Answer a pending human input request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pc, err := openProject(ctx)
			if err != nil {
				return err
			}
			defer pc.close()

			if err := recordResponse(ctx, pc, requestID, message); err != nil {
				return err
			}
			fmt.Println("response recorded")
			return nil
		},
	}
	cmd.Flags().StringVar(&requestID, "request", "", "request id from the human_input_request event")
	cmd.Flags().StringVar(&message, "message", "", "the answer")
	cmd.MarkFlagRequired("request")
	cmd.MarkFlagRequired("message")
	return cmd
}
