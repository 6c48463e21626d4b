package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
	"lukechampine.com/blake3"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/errs"
)

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Move files in and out of COS's storage backends",
}

var fileUploadCmd = &cobra.Command{
	Use:   "upload PATH",
	Short: "Upload a local file as a snapshot, flash-uploading it if its content is already stored",
	Args:  cobra.ExactArgs(1),
	RunE:  runFileUpload,
}

func init() {
	fileUploadCmd.Flags().String("user", "", "Uploading user id (required)")
	fileUploadCmd.Flags().String("node", "", "Owning node id for the resulting snapshot (required)")
	_ = fileUploadCmd.MarkFlagRequired("user")
	_ = fileUploadCmd.MarkFlagRequired("node")

	fileCmd.AddCommand(fileUploadCmd)
}

func runFileUpload(cmd *cobra.Command, args []string) error {
	path := args[0]
	userID, _ := cmd.Flags().GetString("user")
	nodeID, _ := cmd.Flags().GetString("node")

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	sum := blake3.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	ctx := context.Background()
	dest := domain.MoveDestination{
		Kind:   domain.DestinationSnapshot,
		NodeID: nodeID,
		FileID: path,
	}

	regID, err := a.move.Register(ctx, userID, path, hash, domain.HashBlake3, int64(len(data)), dest)
	if err != nil {
		var derr *errs.Error
		if errors.As(err, &derr) && derr.Kind == errs.FlashUpload {
			fmt.Printf("Flash upload: content already stored as file %s\n", derr.Message)
			return nil
		}
		return fmt.Errorf("failed to register upload: %w", err)
	}

	bar := pb.Full.Start64(int64(len(data)))
	bar.SetWriter(os.Stdout)
	if err := a.move.Execute(ctx, regID, data); err != nil {
		bar.Finish()
		return fmt.Errorf("failed to execute upload: %w", err)
	}
	bar.SetCurrent(int64(len(data)))
	bar.Finish()

	fmt.Printf("Uploaded: %s (%s)\n", path, hash)
	return nil
}
