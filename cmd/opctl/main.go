// Command opctl is a thin operator CLI over the orchestrator's HTTP
// control surface: it exists because spec.md declines to specify a
// dashboard UI but a human still has to act on review gates.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("opctl: %v", err))
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("opctl", flag.ContinueOnError)
	baseURL := flags.String("server", envOr("OPCTL_SERVER", "http://localhost:8080"), "orchestrator control surface base URL")
	channelID := flags.String("channel", "", "channel id (required for 'tasks')")
	taskID := flags.String("task", "", "task id (required for approve/reject/retry)")
	reviewer := flags.String("reviewer", envOr("OPCTL_REVIEWER", os.Getenv("USER")), "reviewer identity recorded on the audit trail")
	note := flags.String("note", "", "optional note recorded alongside the decision")
	noColor := flags.Bool("no-color", false, "disable colorized output")
	if err := flags.Parse(args); err != nil {
		return err
	}
	color.NoColor = *noColor || !isatty.IsTerminal(os.Stdout.Fd())

	if flags.NArg() == 0 {
		printUsage()
		return nil
	}

	client := &http.Client{Timeout: 10 * time.Second}
	cmd := flags.Arg(0)

	switch cmd {
	case "health":
		return cmdHealth(client, *baseURL)
	case "channels":
		return cmdChannels(client, *baseURL)
	case "tasks":
		if *channelID == "" {
			return fmt.Errorf("tasks requires --channel")
		}
		return cmdTasks(client, *baseURL, *channelID)
	case "show":
		if *taskID == "" {
			return fmt.Errorf("show requires --task")
		}
		return cmdShow(client, *baseURL, *taskID)
	case "approve", "reject":
		if *taskID == "" {
			return fmt.Errorf("%s requires --task", cmd)
		}
		if *reviewer == "" {
			return fmt.Errorf("%s requires --reviewer (or $USER)", cmd)
		}
		return cmdDecision(client, *baseURL, cmd, *taskID, *reviewer, *note)
	case "retry":
		if *taskID == "" {
			return fmt.Errorf("retry requires --task")
		}
		return cmdRetry(client, *baseURL, *taskID)
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printUsage() {
	fmt.Println("usage: opctl [flags] <command>")
	fmt.Println("commands: health, channels, tasks --channel=ID, show --task=ID,")
	fmt.Println("          approve --task=ID --reviewer=NAME [--note=TEXT],")
	fmt.Println("          reject --task=ID --reviewer=NAME [--note=TEXT], retry --task=ID")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func cmdHealth(client *http.Client, baseURL string) error {
	var body map[string]any
	status, err := getJSON(client, baseURL+"/health", &body)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		fmt.Println(color.GreenString("healthy"), body)
	} else {
		fmt.Println(color.RedString("unhealthy"), body)
	}
	return nil
}

func cmdChannels(client *http.Client, baseURL string) error {
	var body []map[string]any
	if _, err := getJSON(client, baseURL+"/api/v1/channels", &body); err != nil {
		return err
	}
	for _, ch := range body {
		fmt.Printf("%s  %v\n", color.CyanString("%v", ch["ChannelID"]), ch["ChannelName"])
	}
	return nil
}

func cmdTasks(client *http.Client, baseURL, channelID string) error {
	var body []map[string]any
	url := fmt.Sprintf("%s/api/v1/tasks?channel_id=%s", baseURL, channelID)
	if _, err := getJSON(client, url, &body); err != nil {
		return err
	}
	for _, t := range body {
		fmt.Printf("%s  %-12v  stage=%v\n", color.YellowString("%v", t["ID"]), t["State"], t["StageIndex"])
	}
	return nil
}

func cmdShow(client *http.Client, baseURL, taskID string) error {
	var body map[string]any
	if _, err := getJSON(client, baseURL+"/api/v1/tasks/"+taskID, &body); err != nil {
		return err
	}
	raw, _ := json.MarshalIndent(body, "", "  ")
	fmt.Println(string(raw))
	return nil
}

func cmdDecision(client *http.Client, baseURL, cmd, taskID, reviewer, note string) error {
	payload, err := json.Marshal(map[string]string{"reviewer": reviewer, "note": note})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/v1/tasks/%s/%s", baseURL, taskID, cmd)
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s failed (%d): %s", cmd, resp.StatusCode, msg)
	}
	fmt.Println(color.GreenString("%s recorded for task %s", cmd, taskID))
	return nil
}

func cmdRetry(client *http.Client, baseURL, taskID string) error {
	url := fmt.Sprintf("%s/api/v1/tasks/%s/retry", baseURL, taskID)
	resp, err := client.Post(url, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("retry failed (%d): %s", resp.StatusCode, msg)
	}
	fmt.Println(color.GreenString("task %s rescheduled", taskID))
	return nil
}

func getJSON(client *http.Client, url string, out any) (int, error) {
	resp, err := client.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}
