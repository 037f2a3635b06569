package composer

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/hpcloud/tail"

	"kiln.build/core/composer/db"
	"kiln.build/core/composer/models"
)

const summaryTTL = 30 * time.Second

func (k *Kiln) Router() http.Handler {
	mux := chi.NewRouter()

	mux.Use(k.RequestLogger)
	if k.tel != nil {
		mux.Use(k.tel.RequestDuration())
		mux.Use(k.tel.RequestInFlight())
	}

	mux.Get("/", k.Index)
	mux.Get("/releases", k.Releases)
	mux.Get("/runs", k.Runs)
	mux.Get("/runs/{uid}", k.GetRun)
	mux.Get("/runs/{uid}/logs", k.RunLogs)
	mux.Get("/runs/{uid}/logs/{name}", k.RunLog)
	mux.Get("/summary/{release}", k.Summary)
	mux.HandleFunc("/events", k.Events)

	return mux
}

func (k *Kiln) Index(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("kiln compose daemon\n"))
}

func (k *Kiln) Releases(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(k.releases))
	for name := range k.releases {
		names = append(names, name)
	}
	writeJSON(w, names)
}

func (k *Kiln) Runs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := k.db.Runs(limit)
	if err != nil {
		k.l.Error("failed to list runs", "err", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (k *Kiln) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := k.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, run)
}

type logEntry struct {
	Name     string `json:"name"`
	Size     string `json:"size"`
	Modified string `json:"modified"`
}

func (k *Kiln) RunLogs(w http.ResponseWriter, r *http.Request) {
	run, ok := k.lookupRun(w, r)
	if !ok {
		return
	}

	entries, err := os.ReadDir(k.logDirFor(run))
	if err != nil {
		http.Error(w, "no logs for run", http.StatusNotFound)
		return
	}

	logs := make([]logEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		logs = append(logs, logEntry{
			Name:     e.Name(),
			Size:     humanize.Bytes(uint64(info.Size())),
			Modified: humanize.Time(info.ModTime()),
		})
	}
	writeJSON(w, logs)
}

func (k *Kiln) RunLog(w http.ResponseWriter, r *http.Request) {
	run, ok := k.lookupRun(w, r)
	if !ok {
		return
	}

	logPath, err := securejoin.SecureJoin(k.logDirFor(run), chi.URLParam(r, "name"))
	if err != nil {
		http.Error(w, "bad log name", http.StatusBadRequest)
		return
	}

	if r.URL.Query().Get("follow") != "" && run.Status == models.StatusKindRunning {
		k.followLog(w, r, logPath)
		return
	}

	http.ServeFile(w, r, logPath)
}

// followLog upgrades to a websocket and tails the log file until the
// client goes away or the file is removed.
func (k *Kiln) followLog(w http.ResponseWriter, r *http.Request, logPath string) {
	l := k.l.With("handler", "followLog", "path", logPath)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	t, err := tail.TailFile(logPath, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Poll:      true,
	})
	if err != nil {
		l.Error("failed to tail log", "err", err)
		return
	}
	defer t.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case line, ok := <-t.Lines:
			if !ok {
				return
			}
			if line.Err != nil {
				l.Error("tail error", "err", line.Err)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line.Text)); err != nil {
				return
			}
		}
	}
}

func (k *Kiln) Summary(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "release")
	spec, ok := k.releases[name]
	if !ok {
		http.Error(w, "unknown release", http.StatusNotFound)
		return
	}

	if cached, ok := k.summaryCache.Get(name); ok {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(cached.([]byte))
		return
	}

	rc := models.RunContext{ReleaseSpec: spec}
	summaryPath := filepath.Join(rc.Expand(spec.OutputDir), spec.Tree, "summary")
	data, err := os.ReadFile(summaryPath)
	if err != nil {
		http.Error(w, "no summary published", http.StatusNotFound)
		return
	}

	k.summaryCache.SetWithTTL(name, data, int64(len(data)), summaryTTL)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (k *Kiln) lookupRun(w http.ResponseWriter, r *http.Request) (*db.Run, bool) {
	run, err := k.db.GetRun(chi.URLParam(r, "uid"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "no such run", http.StatusNotFound)
		} else {
			k.l.Error("failed to fetch run", "err", err)
			http.Error(w, "failed to fetch run", http.StatusInternalServerError)
		}
		return nil, false
	}
	return run, true
}

// logDirFor expands the release's log dir template with the run's
// recorded arch, mirroring what the pipeline did at compose time.
func (k *Kiln) logDirFor(run *db.Run) string {
	spec, ok := k.releases[run.Release]
	if !ok {
		return ""
	}
	rc := models.RunContext{ReleaseSpec: spec}
	if run.Arch != "" {
		rc.Arch = run.Arch
	}
	return rc.Expand(spec.LogDir)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
