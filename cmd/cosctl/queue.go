package main

import (
	"context"
	"fmt"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect HPC queue resource accounting",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enabled queues and their current usage",
	RunE:  runQueueList,
}

func init() {
	queueCmd.AddCommand(queueListCmd)
}

func runQueueList(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	queues, err := a.store.Queues().ListEnabled(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list queues: %w", err)
	}
	if len(queues) == 0 {
		fmt.Println("No enabled queues found")
		return nil
	}

	fmt.Printf("%-20s %-20s %-12s %-12s %-10s\n", "ID", "TOPIC", "MEMORY", "STORAGE", "NODES")
	for _, q := range queues {
		info := a.queues.Usage(q.ID)
		fmt.Printf("%-20s %-20s %-12s %-12s %d/%d\n",
			q.ID, q.TopicName,
			fmt.Sprintf("%s/%s", units.BytesSize(float64(info.UsedMemory)), units.BytesSize(float64(q.MemoryBytes))),
			fmt.Sprintf("%s/%s", units.BytesSize(float64(info.UsedStorage)), units.BytesSize(float64(q.StorageBytes))),
			info.UsedNode, q.NodeCount)
	}
	return nil
}
