package main

import (
	"context"
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/cos/internal/domain"
)

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Manage workflow drafts",
}

var draftApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Register a draft from a YAML file",
	Long: `Apply reads a draft graph from a YAML file (nodes, edges, batch
strategies) and registers it, the same single-document convention
Warren's own "apply" command uses for service/secret/volume manifests.`,
	RunE: runDraftApply,
}

var draftSubmitCmd = &cobra.Command{
	Use:   "submit DRAFT_ID",
	Short: "Compile a draft into a running workflow instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runDraftSubmit,
}

func init() {
	draftApplyCmd.Flags().StringP("file", "f", "", "YAML file describing the draft (required)")
	draftApplyCmd.Flags().String("user", "", "Owning user id (required)")
	_ = draftApplyCmd.MarkFlagRequired("file")
	_ = draftApplyCmd.MarkFlagRequired("user")

	draftSubmitCmd.Flags().String("user", "", "Submitting user id (required)")
	draftSubmitCmd.Flags().Bool("yes", false, "Skip the interactive confirmation prompt")
	_ = draftSubmitCmd.MarkFlagRequired("user")

	draftCmd.AddCommand(draftApplyCmd)
	draftCmd.AddCommand(draftSubmitCmd)
}

func runDraftApply(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	filename, _ := cmd.Flags().GetString("file")
	userID, _ := cmd.Flags().GetString("user")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var draft domain.WorkflowDraft
	if err := yaml.Unmarshal(data, &draft); err != nil {
		return fmt.Errorf("failed to parse draft YAML: %w", err)
	}
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	draft.UserID = userID

	ctx := context.Background()
	if err := a.store.Drafts().Create(ctx, &draft); err != nil {
		return fmt.Errorf("failed to register draft: %w", err)
	}

	fmt.Printf("Draft registered: %s\n", draft.Name)
	fmt.Printf("  ID: %s\n", draft.ID)
	fmt.Printf("  Nodes: %d\n", len(draft.Spec.Nodes))
	return nil
}

func runDraftSubmit(cmd *cobra.Command, args []string) error {
	draftID := args[0]
	userID, _ := cmd.Flags().GetString("user")
	skipConfirm, _ := cmd.Flags().GetBool("yes")

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if !skipConfirm {
		confirmed := false
		prompt := &survey.Confirm{
			Message: fmt.Sprintf("Submit draft %s as user %s?", draftID, userID),
			Default: true,
		}
		if err := survey.AskOne(prompt, &confirmed); err != nil {
			return fmt.Errorf("prompt failed: %w", err)
		}
		if !confirmed {
			fmt.Println("Aborted.")
			return nil
		}
	}

	instanceID, err := a.control.Submit(context.Background(), draftID, userID)
	if err != nil {
		return fmt.Errorf("failed to submit draft: %w", err)
	}

	fmt.Printf("Workflow instance created: %s\n", instanceID)
	return nil
}
