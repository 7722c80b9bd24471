package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
	input     string
	inputFile string
	suitePath string
	listMode  string
	listLimit int
)

// errNotAllPassed makes the process exit non-zero without an extra message.
var errNotAllPassed = errors.New("not all test cases passed")

func main() {
	root := &cobra.Command{
		Use:           "judge-cli",
		Short:         "CLI client for the prologd judge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("JUDGE_API_KEY"), "API key")

	debugCmd := &cobra.Command{
		Use:   "debug [file]",
		Short: "Run a program once (reads stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDebug,
	}
	debugCmd.Flags().StringVarP(&input, "input", "i", "", "Runtime input")
	debugCmd.Flags().StringVar(&inputFile, "input-file", "", "Read runtime input from a file")
	root.AddCommand(debugCmd)

	testCmd := &cobra.Command{
		Use:   "test [file]",
		Short: "Run a program against a YAML test suite",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTest,
	}
	testCmd.Flags().StringVarP(&suitePath, "suite", "s", "", "Suite file with checker and tests")
	_ = testCmd.MarkFlagRequired("suite")
	root.AddCommand(testCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Query the audit log",
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&listMode, "mode", "", "Filter by mode (debug, testing)")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of runs")
	runsCmd.AddCommand(listCmd)
	runsCmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show a run with its cases",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	})
	root.AddCommand(runsCmd)

	if err := root.Execute(); err != nil {
		if !errors.Is(err, errNotAllPassed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func readCode(args []string) (string, error) {
	if len(args) > 0 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("reading program: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func runDebug(_ *cobra.Command, args []string) error {
	code, err := readCode(args)
	if err != nil {
		return err
	}

	dataIn := input
	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		dataIn = string(data)
	}

	var result struct {
		Result *string `json:"result"`
		Error  *string `json:"error"`
	}
	if err := call(http.MethodPost, "/debug", map[string]string{"code": code, "data_in": dataIn}, &result); err != nil {
		return err
	}

	if result.Result != nil {
		fmt.Println(*result.Result)
	}
	if result.Error != nil {
		fmt.Fprintln(os.Stderr, *result.Error)
		return errNotAllPassed
	}
	return nil
}

func runTest(_ *cobra.Command, args []string) error {
	code, err := readCode(args)
	if err != nil {
		return err
	}
	s, err := loadSuite(suitePath)
	if err != nil {
		return err
	}

	var report testingReport
	if err := call(http.MethodPost, "/testing", s.request(code), &report); err != nil {
		return err
	}

	printReport(os.Stdout, &report)
	if !report.OK {
		return errNotAllPassed
	}
	return nil
}

func runHealth(_ *cobra.Command, _ []string) error {
	var result any
	if err := call(http.MethodGet, "/health", nil, &result); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return printJSON(result)
}

func runList(_ *cobra.Command, _ []string) error {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(listLimit))
	if listMode != "" {
		q.Set("mode", listMode)
	}

	var result any
	if err := call(http.MethodGet, "/runs?"+q.Encode(), nil, &result); err != nil {
		return err
	}
	return printJSON(result)
}

func runGet(_ *cobra.Command, args []string) error {
	var result any
	if err := call(http.MethodGet, "/runs/"+url.PathEscape(args[0]), nil, &result); err != nil {
		return err
	}
	return printJSON(result)
}

// call sends a JSON request and decodes a 2xx response into out. Error
// responses are turned into Go errors carrying the server's error code.
func call(method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusServiceUnavailable {
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("server returned %s", resp.Status)
		}
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Error)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func printJSON(v any) error {
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(formatted))
	return nil
}
