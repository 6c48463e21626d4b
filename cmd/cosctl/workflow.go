package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Control running workflow instances",
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow instances for a user",
	RunE:  runWorkflowList,
}

var workflowStartCmd = &cobra.Command{
	Use:   "start ID",
	Short: "Move a Pending workflow instance to Running",
	Args:  cobra.ExactArgs(1),
	RunE:  workflowTransition((*app).start),
}

var workflowPauseCmd = &cobra.Command{
	Use:   "pause ID",
	Short: "Pause a Running workflow instance",
	Args:  cobra.ExactArgs(1),
	RunE:  workflowTransition((*app).pause),
}

var workflowResumeCmd = &cobra.Command{
	Use:   "resume ID",
	Short: "Resume a Paused workflow instance",
	Args:  cobra.ExactArgs(1),
	RunE:  workflowTransition((*app).resume),
}

var workflowTerminateCmd = &cobra.Command{
	Use:   "terminate ID",
	Short: "Terminate a workflow instance",
	Args:  cobra.ExactArgs(1),
	RunE:  workflowTransition((*app).terminate),
}

func init() {
	workflowListCmd.Flags().String("user", "", "Owning user id (required)")
	_ = workflowListCmd.MarkFlagRequired("user")

	workflowCmd.AddCommand(workflowListCmd)
	workflowCmd.AddCommand(workflowStartCmd)
	workflowCmd.AddCommand(workflowPauseCmd)
	workflowCmd.AddCommand(workflowResumeCmd)
	workflowCmd.AddCommand(workflowTerminateCmd)
}

func runWorkflowList(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	instances, err := a.store.Instances().List(context.Background(), userID)
	if err != nil {
		return fmt.Errorf("failed to list workflow instances: %w", err)
	}

	if len(instances) == 0 {
		fmt.Println("No workflow instances found")
		return nil
	}

	fmt.Printf("%-38s %-12s %-38s\n", "ID", "STATUS", "DRAFT")
	for _, wi := range instances {
		fmt.Printf("%-38s %-12s %-38s\n", wi.ID, wi.Status, wi.DraftID)
	}
	return nil
}

func (a *app) start(ctx context.Context, id string) error     { return a.control.Start(ctx, id) }
func (a *app) pause(ctx context.Context, id string) error     { return a.control.Pause(ctx, id) }
func (a *app) resume(ctx context.Context, id string) error    { return a.control.Resume(ctx, id) }
func (a *app) terminate(ctx context.Context, id string) error { return a.control.Terminate(ctx, id) }

func workflowTransition(op func(*app, context.Context, string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := op(a, context.Background(), args[0]); err != nil {
			return fmt.Errorf("transition failed: %w", err)
		}
		fmt.Printf("OK: %s -> %s\n", args[0], cmd.Name())
		return nil
	}
}
