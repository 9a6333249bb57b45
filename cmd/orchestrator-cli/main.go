// Command orchestrator-cli is a thin REST client for a running orchestrator
// server, grounded on internal/cli/cli.go's cobra command shape (one
// sub-command per operation, a shared --server/--db-style flag, JSON
// request/response bodies). Where GoFlow's CLI calls its WorkflowService
// directly against a local store, this CLI has no in-process engine state to
// reach into — it talks to the server's /api/v1 surface instead.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var serverAddr string

var rootCmd = &cobra.Command{Use: "orchestrator-cli"}

func main() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8080", "orchestrator server base URL")

	rootCmd.AddCommand(
		agentCmd(),
		taskCmd(),
		workflowCmd(),
		scheduleCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "agent", Short: "Manage agents"}

	var name, agentType string
	var capabilities []string

	register := &cobra.Command{
		Use:   "register",
		Short: "Register a new agent",
		Run: func(cmd *cobra.Command, args []string) {
			body := map[string]any{"name": name, "type": agentType, "capabilities": capabilities}
			mustPost("/api/v1/agents", body)
		},
	}
	register.Flags().StringVar(&name, "name", "", "agent name (required)")
	register.Flags().StringVar(&agentType, "type", "", "agent type (required)")
	register.Flags().StringSliceVar(&capabilities, "capability", nil, "task type this agent can handle (repeatable)")
	register.MarkFlagRequired("name")
	register.MarkFlagRequired("type")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		Run: func(cmd *cobra.Command, args []string) {
			mustGet("/api/v1/agents")
		},
	}

	remove := &cobra.Command{
		Use:   "remove [id]",
		Short: "Unregister an agent",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			mustDelete("/api/v1/agents/" + args[0])
		},
	}

	cmd.AddCommand(register, list, remove)
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}

	var taskType string
	var agentID string
	var priority int

	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit a task",
		Run: func(cmd *cobra.Command, args []string) {
			body := map[string]any{"type": taskType, "agent_id": agentID, "priority": priority}
			mustPost("/api/v1/tasks", body)
		},
	}
	submit.Flags().StringVar(&taskType, "type", "", "task type (required)")
	submit.Flags().StringVar(&agentID, "agent", "", "pinned agent id (optional)")
	submit.Flags().IntVar(&priority, "priority", 0, "task priority")
	submit.MarkFlagRequired("type")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Run: func(cmd *cobra.Command, args []string) {
			mustGet("/api/v1/tasks")
		},
	}

	get := &cobra.Command{
		Use:   "get [id]",
		Short: "Get a task",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			mustGet("/api/v1/tasks/" + args[0])
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel a task",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			mustPost("/api/v1/tasks/"+args[0]+"/cancel", nil)
		},
	}

	cmd.AddCommand(submit, list, get, cancel)
	return cmd
}

func workflowCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "workflow", Short: "Manage workflows"}

	var name, description, file string

	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit a workflow (steps read as JSON from --file)",
		Run: func(cmd *cobra.Command, args []string) {
			var steps any
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					fmt.Fprintln(os.Stderr, "read steps file:", err)
					os.Exit(1)
				}
				if err := json.Unmarshal(data, &steps); err != nil {
					fmt.Fprintln(os.Stderr, "parse steps file:", err)
					os.Exit(1)
				}
			}
			body := map[string]any{"name": name, "description": description, "steps": steps}
			mustPost("/api/v1/workflows", body)
		},
	}
	submit.Flags().StringVar(&name, "name", "", "workflow name (required)")
	submit.Flags().StringVar(&description, "description", "", "workflow description")
	submit.Flags().StringVar(&file, "file", "", "path to a JSON array of steps")
	submit.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		Run: func(cmd *cobra.Command, args []string) {
			mustGet("/api/v1/workflows")
		},
	}

	get := &cobra.Command{
		Use:   "get [id]",
		Short: "Get a workflow",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			mustGet("/api/v1/workflows/" + args[0])
		},
	}

	execute := &cobra.Command{
		Use:   "execute [id]",
		Short: "Execute a workflow",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			mustPost("/api/v1/workflows/"+args[0]+"/execute", nil)
		},
	}

	cmd.AddCommand(submit, list, get, execute)
	return cmd
}

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "schedule", Short: "Manage schedules"}

	var name, cronExpr, targetType string

	add := &cobra.Command{
		Use:   "add",
		Short: "Add a schedule",
		Run: func(cmd *cobra.Command, args []string) {
			body := map[string]any{"name": name, "cron": cronExpr, "target_type": targetType, "enabled": true}
			mustPost("/api/v1/schedules", body)
		},
	}
	add.Flags().StringVar(&name, "name", "", "schedule name (required)")
	add.Flags().StringVar(&cronExpr, "cron", "", "cron expression, e.g. \"0 */5 * * * *\" (required)")
	add.Flags().StringVar(&targetType, "target", "TASK", "TASK or WORKFLOW")
	add.MarkFlagRequired("name")
	add.MarkFlagRequired("cron")

	list := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		Run: func(cmd *cobra.Command, args []string) {
			mustGet("/api/v1/schedules")
		},
	}

	remove := &cobra.Command{
		Use:   "remove [id]",
		Short: "Remove a schedule",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			mustDelete("/api/v1/schedules/" + args[0])
		},
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func mustGet(path string) {
	resp, err := httpClient.Get(serverAddr + path)
	printResponse(resp, err)
}

func mustDelete(path string) {
	req, _ := http.NewRequest(http.MethodDelete, serverAddr+path, nil)
	resp, err := httpClient.Do(req)
	printResponse(resp, err)
}

func mustPost(path string, body any) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintln(os.Stderr, "marshal request:", err)
			os.Exit(1)
		}
		reader = bytes.NewReader(data)
	}
	resp, err := httpClient.Post(serverAddr+path, "application/json", reader)
	printResponse(resp, err)
}

func printResponse(resp *http.Response, err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "request failed:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "server returned %s: %s\n", resp.Status, data)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
