// Command dplane-inspect pulls debug snapshots from one or more
// running dplane data-plane workers and prints them either as a
// pretty summary or raw JSON. It also supports periodic watch mode
// and pprof profile download.
//
// The target Go service is expected to expose:
//   - GET /debug/dplane/snapshot       – JSON payload combining
//     ScanSuppressor/Reassembler/CTable stats for that worker.
//   - GET /debug/pprof/{heap,goroutine} – standard pprof handlers.
//
// The snapshot object is intentionally generic (decoded into
// map[string]any) so the CLI never has to be rebuilt in lockstep with
// the library's Stats structs.
//
// Supports one-shot, watch, and pprof-download modes. Snapshots of any
// number of --targets are fetched concurrently, with a singleflight.Group
// deduping overlapping snapshot fetches of the same target (e.g. a
// target listed twice in --targets). Profile downloads do not go
// through it; they run alone and exit.
//
// © 2025 dplane authors. MIT License.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"golang.org/x/sync/singleflight"
)

var version = "dev"

var fetchGroup singleflight.Group

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}

	if opts.version {
		fmt.Println(version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if opts.heapProfile != "" {
		if err := downloadProfile(ctx, opts.targets[0], "heap", opts.heapProfile); err != nil {
			fatal(err)
		}
		return
	}
	if opts.goroutineProfile != "" {
		if err := downloadProfile(ctx, opts.targets[0], "goroutine", opts.goroutineProfile); err != nil {
			fatal(err)
		}
		return
	}

	if opts.watch {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			dumpAll(ctx, opts)
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}

	dumpAll(ctx, opts)
}

// dumpAll fetches every configured target concurrently and prints
// results in a stable (sorted-by-target) order once all have
// returned, so watch-mode output doesn't interleave across targets.
func dumpAll(ctx context.Context, opts *options) {
	type result struct {
		target string
		snap   map[string]any
		err    error
	}
	results := make(chan result, len(opts.targets))
	for _, target := range opts.targets {
		target := target
		go func() {
			snap, err := fetchSnapshot(ctx, target)
			results <- result{target: target, snap: snap, err: err}
		}()
	}

	collected := make([]result, 0, len(opts.targets))
	for range opts.targets {
		collected = append(collected, <-results)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].target < collected[j].target })

	for _, r := range collected {
		if r.err != nil {
			fmt.Fprintf(os.Stderr, "%s: error: %v\n", r.target, r.err)
			continue
		}
		if len(opts.targets) > 1 {
			fmt.Printf("== %s ==\n", r.target)
		}
		if opts.json {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(r.snap)
			continue
		}
		prettyPrint(r.snap)
	}
}

// fetchSnapshot dedupes concurrent fetches of the same target (e.g.
// dumpAll's fan-out over a target listed twice) behind a single HTTP
// round trip.
func fetchSnapshot(ctx context.Context, base string) (map[string]any, error) {
	v, err, _ := fetchGroup.Do(base, func() (any, error) {
		url := base + "/debug/dplane/snapshot"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %s", res.Status)
		}
		var data map[string]any
		if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

func prettyPrint(data map[string]any) {
	fmt.Printf("ScanSuppressor: forwarded=%v dropped=%v conn_slots=%v addr_lines=%v\n",
		data["scansuppressor_forwarded_total"], data["scansuppressor_dropped_total"],
		data["scansuppressor_conn_slots"], data["scansuppressor_addr_lines"])
	fmt.Printf("Reassembler:    live_flows=%v max_concurrent=%v max_displacement=%v\n",
		data["reassembly_live_flows"], data["reassembly_max_concurrent"], data["reassembly_max_displacement"])
	fmt.Printf("CTable:         occupancy=%v size=%v max_displacement=%v\n",
		data["ctable_occupancy"], data["ctable_size"], data["ctable_max_displacement"])
}

func downloadProfile(ctx context.Context, base, name, path string) error {
	url := fmt.Sprintf("%s/debug/pprof/%s", base, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", res.Status)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, res.Body); err != nil {
		return err
	}
	fmt.Printf("%s profile saved to %s\n", name, path)
	return nil
}
