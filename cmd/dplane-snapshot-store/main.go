// Command dplane-snapshot-store polls dplane-inspect-compatible
// /debug/dplane/snapshot endpoints and archives every poll in an
// embedded BadgerDB, keyed by (target, timestamp), so a historical
// series of CTable/ScanSuppressor/Reassembler occupancy can be
// replayed after the fact instead of only observed live.
//
// Every successful poll writes one archive entry; a prefix iterator
// over (target, timestamp) keys replays a target's history in
// chronological order since Badger's LSM tree keeps keys sorted.
//
// © 2025 dplane authors. MIT License.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("dplane-snapshot-store", pflag.ContinueOnError)
	target := fs.StringP("target", "t", "http://127.0.0.1:6060", "snapshot endpoint base URL to poll")
	dbPath := fs.String("db", "./dplane-snapshots", "Badger directory for the archive")
	interval := fs.Duration("interval", 5*time.Second, "poll interval")
	httpAddr := fs.String("http", "", "if set, serve archived snapshots for -target over HTTP at this address (e.g. :6061)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "dplane-snapshot-store:", err)
		os.Exit(1)
	}

	db, err := badger.Open(badger.DefaultOptions(*dbPath).WithLogger(nil))
	if err != nil {
		fmt.Fprintln(os.Stderr, "dplane-snapshot-store: badger open:", err)
		os.Exit(1)
	}
	defer db.Close()

	arch := &archive{db: db}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if *httpAddr != "" {
		go serveArchive(*httpAddr, arch, *target)
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		if err := pollOnce(ctx, *target, arch); err != nil {
			fmt.Fprintln(os.Stderr, "dplane-snapshot-store: poll:", err)
		}
		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			return
		}
	}
}

func pollOnce(ctx context.Context, target string, a *archive) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+"/debug/dplane/snapshot", nil)
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
	var snap map[string]any
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		return err
	}
	return a.put(target, time.Now(), snap)
}

// archive is the BadgerDB-backed historical store. Keys are
// target-prefixed and big-endian-timestamp-suffixed so a prefix
// iterator naturally yields a target's snapshots in chronological
// order (Badger's LSM tree keeps keys sorted).
type archive struct {
	db *badger.DB
}

func snapshotKey(target string, at time.Time) []byte {
	key := make([]byte, 0, len(target)+1+8)
	key = append(key, target...)
	key = append(key, 0)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(at.UnixNano()))
	return append(key, ts[:]...)
}

func (a *archive) put(target string, at time.Time, snap map[string]any) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(target, at), payload)
	})
}

// since returns every archived snapshot for target at or after from,
// oldest first.
func (a *archive) since(target string, from time.Time) ([]map[string]any, error) {
	prefix := append([]byte(target), 0)
	// Keys hold uint64(UnixNano); a from at or before the epoch (such as
	// the zero Time /history passes without ?since) would not encode as a
	// small key, so start at the first key of the target instead.
	startKey := prefix
	if from.After(time.Unix(0, 0)) {
		startKey = snapshotKey(target, from)
	}
	var out []map[string]any
	err := a.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(startKey); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				var snap map[string]any
				if err := json.Unmarshal(v, &snap); err != nil {
					return err
				}
				out = append(out, snap)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// serveArchive exposes the archived history for target as JSON, so a
// dashboard can plot occupancy/drops over time without re-polling the
// live worker.
func serveArchive(addr string, a *archive, target string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		sinceParam := r.URL.Query().Get("since")
		from := time.Time{}
		if sinceParam != "" {
			if parsed, err := time.Parse(time.RFC3339, sinceParam); err == nil {
				from = parsed
			}
		}
		snaps, err := a.since(target, from)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(snaps)
	})
	_ = http.ListenAndServe(addr, mux)
}
