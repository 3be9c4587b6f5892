package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"vod-curator/internal/bus"
	"vod-curator/internal/credential"
	"vod-curator/internal/model"
	"vod-curator/internal/sched"
	"vod-curator/internal/statestore"
	"vod-curator/internal/subs"
	"vod-curator/internal/ytdlp"
)

type syncSubReport struct {
	Subscription string `json:"subscription"`
	URL          string `json:"url"`
	Listed       int    `json:"listed"`
	AlreadyHave  int    `json:"already_have"`
	Submitted    int    `json:"submitted"`
	Downloaded   int    `json:"downloaded"`
	Failed       int    `json:"failed"`
	Canceled     int    `json:"canceled,omitempty"`
	Error        string `json:"error,omitempty"`
}

type syncResult struct {
	Subscriptions int             `json:"subscriptions"`
	Submitted     int             `json:"submitted"`
	Downloaded    int             `json:"downloaded"`
	Failures      int             `json:"failures"`
	Reports       []syncSubReport `json:"reports"`
}

func runSync(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	subscription := fs.String("subscription", "", "subscription name or comma-separated names (default: all active)")
	config := fs.String("config", subs.DefaultRegistryPath, "subscription registry path")
	cookiesDir := fs.String("cookies-dir", defaultCookiesDir, "cookie jar directory")
	downloadsDir := fs.String("downloads-dir", defaultDownloadsDir, "download output directory")
	stateDir := fs.String("state-dir", defaultStateDir, "scheduler state directory")
	maxVideos := fs.Int("max-videos", 0, "max new downloads per subscription this invocation (0 = no limit)")
	quality := fs.String("quality", "", "quality preset override: best|1080p|720p")
	limitRate := fs.Float64("limit-rate", 0, "download rate limit in MB/s (0 = unlimited)")
	natsURL := fs.String("nats-url", os.Getenv("VODC_NATS_URL"), "NATS URL for the job event audit stream (optional)")
	interactive := fs.Bool("interactive", false, "open the live scheduler console")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg, _, err := subs.Ensure(strings.TrimSpace(*config))
	if err != nil {
		return err
	}
	var names []string
	if strings.TrimSpace(*subscription) != "" {
		names = strings.Split(*subscription, ",")
	}
	selected, err := subs.Select(reg, names, len(names) == 0)
	if err != nil {
		if errors.Is(err, subs.ErrNoSubscriptions) {
			fmt.Println("no subscriptions configured")
			fmt.Println("next: vod-curator add --url <collection-url>")
			return nil
		}
		return err
	}
	if len(selected) == 0 {
		return errors.New("no subscriptions selected")
	}

	log := newLogger()
	lock, err := statestore.AcquireWorkspaceLock(strings.TrimSpace(*stateDir))
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	pool, err := credential.Open(strings.TrimSpace(*cookiesDir))
	if err != nil {
		return err
	}
	exec := ytdlp.NewClient(pool, ytdlp.Options{
		Quality:       strings.TrimSpace(*quality),
		LimitRateMBps: *limitRate,
		Logger:        log,
	})

	cfg := sched.ConfigFromEnv()
	cfg.Logger = log
	s := sched.New(cfg, exec, pool)
	s.Start()
	defer s.Close()

	if url := strings.TrimSpace(*natsURL); url != "" {
		audit, err := bus.Connect(url)
		if err != nil {
			return fmt.Errorf("connect audit stream: %w", err)
		}
		events, unsub := s.Subscribe(256)
		go audit.PumpJobEvents(events, log)
		defer audit.Close()
		defer unsub()
	}

	orch := &syncOrchestrator{
		sched:        s,
		subs:         selected,
		downloadsDir: strings.TrimSpace(*downloadsDir),
		archiveDir:   filepath.Join(strings.TrimSpace(*stateDir), "archive"),
		maxVideos:    *maxVideos,
		quality:      strings.TrimSpace(*quality),
	}
	if !*jsonOut && !*interactive {
		orch.printf = func(format string, a ...any) { fmt.Printf(format, a...) }
	}

	var result syncResult
	if *interactive && !*jsonOut {
		if !stdinIsTTY() {
			return errors.New("--interactive requires a terminal (TTY)")
		}
		result, err = runConsole(s, orch)
		if err != nil {
			return err
		}
	} else {
		if orch.printf != nil {
			orch.printf("sync: %d subscription(s)\n", len(selected))
		}
		result = orch.run()
	}

	if *jsonOut {
		if err := printJSON(result); err != nil {
			return err
		}
	} else {
		fmt.Println("sync summary")
		fmt.Printf("subscriptions: %d\n", result.Subscriptions)
		fmt.Printf("submitted: %d\n", result.Submitted)
		fmt.Printf("downloaded: %d\n", result.Downloaded)
		fmt.Printf("failures: %d\n", result.Failures)
	}
	if result.Failures > 0 {
		return fmt.Errorf("sync finished with %d failure(s)", result.Failures)
	}
	return nil
}

// syncOrchestrator drives one sync pass: a listing fetch per subscription,
// then a download job for every listed video not yet in that subscription's
// archive. All waiting happens here; concurrency policy lives in the
// scheduler.
type syncOrchestrator struct {
	sched        *sched.Scheduler
	subs         []subs.Subscription
	downloadsDir string
	archiveDir   string
	maxVideos    int
	quality      string
	printf       func(format string, a ...any)

	mu sync.Mutex
}

func (o *syncOrchestrator) run() syncResult {
	reports := make([]syncSubReport, len(o.subs))
	var wg sync.WaitGroup
	for i, sub := range o.subs {
		wg.Add(1)
		go func(i int, sub subs.Subscription) {
			defer wg.Done()
			reports[i] = o.syncOne(sub)
		}(i, sub)
	}
	wg.Wait()

	result := syncResult{Subscriptions: len(o.subs), Reports: reports}
	for _, r := range reports {
		result.Submitted += r.Submitted
		result.Downloaded += r.Downloaded
		result.Failures += r.Failed
		if r.Error != "" {
			result.Failures++
		}
	}
	return result
}

func (o *syncOrchestrator) syncOne(sub subs.Subscription) syncSubReport {
	report := syncSubReport{Subscription: sub.Name, URL: sub.URL}
	o.progress("[%s] fetching listing\n", sub.Name)

	listID, err := o.sched.Submit(sched.SubmitSpec{
		Kind:           model.KindListFetch,
		SubscriptionID: sub.Name,
		RequiresAuth:   sub.RequiresAuth,
		Priority:       sub.Priority,
		Request:        model.Request{URL: sub.URL},
	})
	if err != nil {
		report.Error = err.Error()
		return report
	}
	listJob, err := o.sched.Wait(context.Background(), listID)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	if listJob.Status != model.StatusDone {
		report.Error = fmt.Sprintf("listing %s: %s (%s)", listJob.Status, listJob.LastFailure, listJob.LastError)
		o.progress("[%s] listing failed: %s\n", sub.Name, report.Error)
		return report
	}
	listing, ok := listJob.Result.(ytdlp.Listing)
	if !ok {
		report.Error = fmt.Sprintf("listing returned unexpected payload %T", listJob.Result)
		return report
	}
	report.Listed = len(listing.Entries)

	archivePath := filepath.Join(o.archiveDir, sub.Name+".txt")
	have, err := loadArchiveIDs(archivePath)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	if err := statestore.Mkdir(o.archiveDir); err != nil {
		report.Error = err.Error()
		return report
	}

	outputDir := sub.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(o.downloadsDir, sub.Name)
	}
	quality := firstNonEmpty(o.quality, sub.Quality)

	var ids []string
	for _, entry := range listing.Entries {
		if have[entry.ID] {
			report.AlreadyHave++
			continue
		}
		if strings.TrimSpace(entry.URL) == "" {
			continue
		}
		if o.maxVideos > 0 && len(ids) >= o.maxVideos {
			break
		}
		id, err := o.sched.Submit(sched.SubmitSpec{
			Kind:           model.KindDownload,
			SubscriptionID: sub.Name,
			RequiresAuth:   sub.RequiresAuth,
			Priority:       sub.Priority,
			Request: model.Request{
				URL:         entry.URL,
				OutputDir:   outputDir,
				ArchiveFile: archivePath,
				Quality:     quality,
			},
		})
		if err != nil {
			report.Error = err.Error()
			break
		}
		ids = append(ids, id)
	}
	report.Submitted = len(ids)
	o.progress("[%s] listed %d, have %d, queued %d\n", sub.Name, report.Listed, report.AlreadyHave, report.Submitted)

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			job, err := o.sched.Wait(context.Background(), id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed++
			case job.Status == model.StatusDone:
				report.Downloaded++
				o.progress("[%s] downloaded %s\n", sub.Name, job.Request.URL)
			case job.Status == model.StatusCanceled:
				report.Canceled++
			default:
				report.Failed++
				o.progress("[%s] failed %s: %s\n", sub.Name, job.Request.URL, job.LastError)
			}
		}(id)
	}
	wg.Wait()
	return report
}

func (o *syncOrchestrator) progress(format string, a ...any) {
	if o.printf == nil {
		return
	}
	o.mu.Lock()
	o.printf(format, a...)
	o.mu.Unlock()
}

// loadArchiveIDs reads a yt-dlp download archive ("<extractor> <id>" per
// line) into an id set. A missing file means an empty archive.
func loadArchiveIDs(path string) (map[string]bool, error) {
	ids := make(map[string]bool)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ids, nil
		}
		return nil, fmt.Errorf("open download archive %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		ids[fields[len(fields)-1]] = true
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read download archive %s: %w", path, err)
	}
	return ids, nil
}
