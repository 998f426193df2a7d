package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"enrollassist-backend/internal/service"
	"enrollassist-backend/internal/tasks"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var serverURL string

func init() {
	tasksCmd.PersistentFlags().StringVar(&serverURL, "server", os.Getenv("ENROLL_SERVER_URL"), "Url of the enrollment server, defaults to $ENROLL_SERVER_URL.")
	tasksCmd.AddCommand(tasksListCmd, tasksGetCmd, tasksCancelCmd, tasksStatsCmd)
	rootCmd.AddCommand(tasksCmd)
}

func serverClient() *service.Client {
	if serverURL == "" {
		fail(fmt.Errorf("you should specify the server url with --server or ENROLL_SERVER_URL"))
	}
	client := service.NewClient(&http.Client{Timeout: 30 * time.Second}, serverURL)
	return client.WithAdminToken(os.Getenv("ENROLL_ADMIN_TOKEN"))
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspects and cancels tasks on the enrollment server.",
}

var tasksListCmd = &cobra.Command{
	Use:   "list [owner]",
	Short: "Lists the tasks of an owner, or every task with $ENROLL_ADMIN_TOKEN.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := serverClient()
		var res *service.ListTasksResponse
		var err error
		if len(args) == 1 {
			res, err = client.ListTasks(cmd.Context(), args[0])
		} else {
			res, err = client.ListAllTasks(cmd.Context())
		}
		if err != nil {
			fail(err)
		}
		printTasks(res.Tasks)
	},
}

var tasksGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Prints a single task.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		res, err := serverClient().GetTask(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		printTasks([]tasks.Task{res.Task})
		fmt.Println(res.Task.Message)
	},
}

var tasksCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancels a pending or running task.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		res, err := serverClient().CancelTask(cmd.Context(), args[0])
		if err != nil {
			fail(err)
		}
		printTasks([]tasks.Task{res.Task})
	},
}

var tasksStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints the number of tasks per status.",
	Run: func(cmd *cobra.Command, args []string) {
		res, err := serverClient().TaskStats(cmd.Context())
		if err != nil {
			fail(err)
		}
		t := newTable()
		t.AppendHeader(table.Row{"Total", "Pending", "Running", "Completed", "Failed", "Cancelled", "Slots"})
		s := res.Stats
		t.AppendRow(table.Row{s.Total, s.Pending, s.Running, s.Completed, s.Failed, s.Cancelled, res.Concurrency})
		t.Render()
	},
}

func printTasks(list []tasks.Task) {
	t := newTable()
	t.AppendHeader(table.Row{"ID", "Owner", "Kind", "Status", "Attempts", "Created"})
	for _, task := range list {
		t.AppendRow(table.Row{
			task.ID, task.Owner, task.Kind, task.Status, task.Attempts,
			task.CreatedAt.Local().Format(time.DateTime),
		})
	}
	t.Render()
}
