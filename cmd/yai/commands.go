package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/francescomaiomascio/yai/pkg/archive"
	"github.com/francescomaiomascio/yai/pkg/artifacts"
	"github.com/francescomaiomascio/yai/pkg/capabilities"
	"github.com/francescomaiomascio/yai/pkg/client"
	"github.com/francescomaiomascio/yai/pkg/kernel"
)

type taxonomyEntry struct {
	EventType      kernel.EventType `json:"event_type"`
	Category       string           `json:"category"`
	AllowedOrigins []string         `json:"allowed_origins"`
}

// runTaxonomyCmd prints the closed event taxonomy with its authority table.
func runTaxonomyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("taxonomy", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	category := cmd.String("category", "", "Only list one category (e.g. COGNITIVE)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	var out []taxonomyEntry
	for _, c := range kernel.Categories() {
		if *category != "" && !strings.EqualFold(*category, c.String()) {
			continue
		}
		for _, t := range kernel.EventTypes(c) {
			out = append(out, taxonomyEntry{EventType: t, Category: c.String(), AllowedOrigins: kernel.AllowedOriginsFor(t)})
		}
	}
	if len(out) == 0 {
		_, _ = fmt.Fprintf(stderr, "Error: unknown category %q\n", *category)
		return 2
	}
	return printJSON(stdout, stderr, out)
}

var knownCapabilities = []capabilities.Type{
	capabilities.EventEmit,
	capabilities.MemoryRead,
	capabilities.MemoryWrite,
}

func parseCapabilities(raw string) ([]capabilities.Type, error) {
	var caps []capabilities.Type
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		found := false
		for _, k := range knownCapabilities {
			if string(k) == part {
				caps = append(caps, k)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown capability %q", part)
		}
	}
	return caps, nil
}

// runTokenCmd issues a capability token signed with the configured secret.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		subject string
		runID   string
		caps    string
		ttl     time.Duration
	)
	configPath := configFlag(cmd)
	cmd.StringVar(&subject, "subject", "", "Origin the token is issued to, e.g. agent:planner (REQUIRED)")
	cmd.StringVar(&runID, "run", capabilities.AnyRun, "Run the token is bound to ('*' for every run)")
	cmd.StringVar(&caps, "caps", string(capabilities.EventEmit), "Comma separated capabilities")
	cmd.DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if subject == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --subject is required")
		return 2
	}
	capList, err := parseCapabilities(caps)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if cfg.TokenSecret == "" {
		_, _ = fmt.Fprintln(stderr, "Error: YAI_TOKEN_SECRET (or token_secret) must be set")
		return 2
	}
	tm, err := capabilities.NewTokenManager([]byte(cfg.TokenSecret))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	token, err := tm.Issue(subject, runID, capList, ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintln(stdout, token)
	return 0
}

// runVerifyCmd replays an archived run.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	configPath := configFlag(cmd)
	runID := cmd.String("run", "", "Run to verify (REQUIRED)")
	jsonOutput := cmd.Bool("json", false, "Output the report as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *runID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --run is required")
		return 2
	}

	ctx := context.Background()
	a, code := openArchiveFor(ctx, *configPath, stderr)
	if a == nil {
		return code
	}
	defer a.Close()

	report, err := archive.VerifyRun(ctx, a, *runID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if *jsonOutput {
		if code := printJSON(stdout, stderr, report); code != 0 {
			return code
		}
	} else {
		_, _ = fmt.Fprintf(stdout, "run %s: %d/%d events verified\n", report.RunID, report.Verified, report.Events)
		for _, m := range report.Mismatches {
			_, _ = fmt.Fprintf(stdout, "  seq %d %s: %s\n", m.Seq, m.EventID, m.Reason)
		}
	}
	if !report.OK() {
		return 1
	}
	return 0
}

// runExportCmd writes a canonical bundle of an archived run to the artifact
// store and prints its digest.
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	configPath := configFlag(cmd)
	runID := cmd.String("run", "", "Run to export (REQUIRED)")
	out := cmd.String("out", "", "Artifact location: directory, file://, s3:// or gs:// (default: artifacts_url)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *runID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --run is required")
		return 2
	}

	ctx := context.Background()
	cfg, err := loadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	location := *out
	if location == "" {
		location = cfg.ArtifactsURL
	}
	store, err := artifacts.Open(ctx, location)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	a, err := openArchive(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open archive: %v\n", err)
		return 2
	}
	defer a.Close()

	bundle, err := archive.Export(ctx, a, *runID, time.Now())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	data, err := bundle.Encode()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: encode bundle: %v\n", err)
		return 2
	}
	digest, err := store.Store(ctx, data)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: store bundle: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "%s %s events=%d head=%s\n", digest, bundle.RunID, len(bundle.Events), bundle.Head)
	return 0
}

// runHealthCmd probes a running server.
func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	addr := cmd.String("addr", "http://localhost:8080", "Server base URL")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	report, err := client.New(*addr, client.WithTimeout(5*time.Second)).Health(context.Background())
	if err != nil {
		if status := client.StatusOf(err); status != 0 {
			_, _ = fmt.Fprintf(stderr, "Health check failed: status %d\n", status)
			if report != nil {
				for name, result := range report.Checks {
					_, _ = fmt.Fprintf(stderr, "  %s: %s\n", name, result)
				}
			}
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "OK events=%d memories=%d head=%s\n", report.Events, report.Memories, report.Head)
	return 0
}

func openArchiveFor(ctx context.Context, configPath string, stderr io.Writer) (*archive.SQLArchive, int) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, 2
	}
	a, err := openArchive(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open archive: %v\n", err)
		return nil, 2
	}
	return a, 0
}

func printJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}
