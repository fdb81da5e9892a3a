package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sshcollectorpro/echoshell/internal/service"
)

const defaultSSHConfig = "~/.ssh/config"

// hostResult 单台设备的执行结果
type hostResult struct {
	Target  target
	Result  *service.BatchResult
	Status  int
	Err     string
	Elapsed time.Duration
}

func main() {
	server := flag.String("server", "http://localhost:8080", "Server base URL")
	hosts := flag.String("hosts", "", "Comma separated hosts or ssh_config aliases, host[:port]")
	user := flag.String("user", "", "Login user (overrides ssh_config User)")
	password := flag.String("password", os.Getenv("ECHOSHELL_PASSWORD"), "Login password, defaults to $ECHOSHELL_PASSWORD")
	keyFile := flag.String("key", "", "Private key file on the server side")
	commands := flag.String("commands", "", "Commands separated by ';'")
	extraEnter := flag.String("extra_enter", "", "Comma separated 0-based command indexes that need an extra Enter")
	sshConfig := flag.String("ssh_config", defaultSSHConfig, "ssh_config file for alias resolution ('' to disable)")
	concurrency := flag.Int("concurrency", 4, "Max hosts in flight")
	timeout := flag.Int("http_timeout", 120, "HTTP client timeout seconds")
	outDir := flag.String("out", "", "Optional directory to write one transcript per host")
	limit := flag.Int("limit", 20, "Max transcript lines printed per host (0 = all)")
	flag.Parse()

	cmds := splitCommands(*commands)
	if *hosts == "" || len(cmds) == 0 {
		fmt.Fprintln(os.Stderr, "usage: cli -hosts sw1,sw2 -user admin -commands 'display version;display clock'")
		flag.PrintDefaults()
		os.Exit(2)
	}
	extra, err := parseIndexes(*extraEnter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -extra_enter: %v\n", err)
		os.Exit(2)
	}

	rc, err := openSSHConfig(*sshConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open ssh config: %v\n", err)
		os.Exit(1)
	}
	var r io.Reader
	if rc != nil {
		defer rc.Close()
		r = rc
	}
	targets, err := resolveTargets(strings.Split(*hosts, ","), r, target{User: *user, Password: *password, KeyFile: *keyFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	client := &http.Client{Timeout: time.Duration(*timeout) * time.Second}
	endpoint := strings.TrimRight(*server, "/") + "/api/v1/shell/batch"
	results := runAll(context.Background(), client, endpoint, targets, cmds, extra, *concurrency)

	failed := 0
	for _, res := range results {
		printResult(res, *limit)
		if res.Err != "" {
			failed++
			continue
		}
		if *outDir != "" {
			if err := writeTranscript(*outDir, res); err != nil {
				fmt.Fprintf(os.Stderr, "write transcript for %s: %v\n", res.Target.Alias, err)
			}
		}
	}
	fmt.Printf("\n%d/%d hosts succeeded\n", len(results)-failed, len(results))
	if failed > 0 {
		os.Exit(1)
	}
}

// runAll 并发执行，单台失败不影响其他设备
func runAll(ctx context.Context, client *http.Client, endpoint string, targets []target, cmds []string, extra []int, concurrency int) []hostResult {
	results := make([]hostResult, len(targets))
	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, t := range targets {
		g.Go(func() error {
			start := time.Now()
			res, status, err := postBatch(ctx, client, endpoint, &service.BatchRequest{
				Host:       t.Host,
				Port:       t.Port,
				Username:   t.User,
				Password:   t.Password,
				KeyFile:    t.KeyFile,
				Commands:   cmds,
				ExtraEnter: extra,
			})
			results[i] = hostResult{Target: t, Result: res, Status: status, Elapsed: time.Since(start)}
			if err != nil {
				results[i].Err = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func postBatch(ctx context.Context, client *http.Client, endpoint string, req *service.BatchRequest) (*service.BatchResult, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &e) == nil && e.Message != "" {
			return nil, resp.StatusCode, fmt.Errorf("%s: %s", e.Code, e.Message)
		}
		return nil, resp.StatusCode, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var result service.BatchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return &result, resp.StatusCode, nil
}

func printResult(res hostResult, limit int) {
	t := res.Target
	fmt.Printf("==== %s (%s:%d) %s ====\n", t.Alias, t.Host, t.Port, res.Elapsed.Round(time.Millisecond))
	if res.Err != "" {
		fmt.Printf("FAILED: %s\n", res.Err)
		return
	}
	for _, c := range res.Result.Commands {
		flags := []string{}
		if c.TimedOut {
			flags = append(flags, "timeout")
		}
		if c.Truncated {
			flags = append(flags, "truncated")
		}
		if c.Skipped {
			flags = append(flags, "skipped")
		}
		fmt.Printf("  %-40q pages=%d %s\n", c.Command, c.Pages, strings.Join(flags, ","))
	}
	fmt.Println(trimLines(res.Result.Transcript, limit))
}

func writeTranscript(dir string, res hostResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s_%s.txt", strings.NewReplacer(":", "_", "/", "_").Replace(res.Target.Alias), res.Result.RunID)
	return os.WriteFile(filepath.Join(dir, name), []byte(res.Result.Transcript), 0o644)
}

// splitCommands 保留中间的空命令以对齐 -extra_enter 下标，只去掉末尾空项
func splitCommands(s string) []string {
	out := strings.Split(s, ";")
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

func parseIndexes(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// trimLines 统一换行后只保留前 limit 行
func trimLines(s string, limit int) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	if limit <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= limit {
		return s
	}
	return strings.Join(lines[:limit], "\n") + fmt.Sprintf("\n... (%d more lines)", len(lines)-limit)
}
