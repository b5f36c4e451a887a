// Command smokecheck probes a running API instance after a deploy. It
// reads a JSON list of endpoints with expected status codes and exits
// non-zero when any critical probe fails, so it can gate a rollout in CI.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type probe struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	WantStatus int    `json:"want_status"`
	Critical   bool   `json:"critical"`
}

type probeFile struct {
	Probes []probe `json:"probes"`
}

type result struct {
	Probe    probe
	Status   int
	Duration time.Duration
	Err      error
}

func main() {
	var (
		baseURL    string
		probesPath string
		timeout    time.Duration
	)

	flag.StringVar(&baseURL, "base", "http://localhost:8080", "API base URL")
	flag.StringVar(&probesPath, "probes", filepath.Join("scripts", "smokecheck", "probes.json"), "Path to JSON probes file")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	probes, err := loadProbes(probesPath)
	if err != nil {
		log.Fatalf("failed to load probes: %v", err)
	}

	client := &http.Client{Timeout: timeout}
	failed := 0
	for _, p := range probes {
		res := runProbe(client, baseURL, p)
		report(res)
		if res.Err != nil || res.Status != p.WantStatus {
			if p.Critical {
				failed++
			}
		}
	}

	if failed > 0 {
		fmt.Printf("%d critical probe(s) failed\n", failed)
		os.Exit(1)
	}
	fmt.Println("all critical probes passed")
}

func loadProbes(path string) ([]probe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f probeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.Probes) == 0 {
		return nil, fmt.Errorf("no probes defined in %s", path)
	}
	return f.Probes, nil
}

func runProbe(client *http.Client, base string, p probe) result {
	res := result{Probe: p}

	method := strings.ToUpper(strings.TrimSpace(p.Method))
	if method == "" {
		method = http.MethodGet
	}
	path := p.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequest(method, strings.TrimRight(base, "/")+path, nil)
	if err != nil {
		res.Err = err
		return res
	}

	start := time.Now()
	resp, err := client.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		return res
	}
	defer resp.Body.Close() //nolint:errcheck

	res.Status = resp.StatusCode
	return res
}

func report(res result) {
	verdict := "OK"
	switch {
	case res.Err != nil:
		verdict = "ERROR"
	case res.Status != res.Probe.WantStatus:
		verdict = "FAIL"
	}
	fmt.Printf("[%s] %s %s\n", verdict, res.Probe.Method, res.Probe.Path)
	if res.Err != nil {
		fmt.Printf("  error: %v\n", res.Err)
		return
	}
	fmt.Printf("  status: %d (want %d) in %s | critical: %t\n", res.Status, res.Probe.WantStatus, res.Duration, res.Probe.Critical)
}
