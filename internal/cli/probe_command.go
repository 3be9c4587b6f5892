package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"vod-curator/internal/credential"
	"vod-curator/internal/model"
	"vod-curator/internal/sched"
	"vod-curator/internal/ytdlp"
)

// probe fetches one video's metadata document through the scheduler, so a
// single probe obeys the same channel capacity and throttle rules as a sync.
func runProbe(args []string) error {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	url := fs.String("url", "", "video URL")
	auth := fs.Bool("auth", false, "probe on the authenticated channel")
	cookiesDir := fs.String("cookies-dir", defaultCookiesDir, "cookie jar directory")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	target := strings.TrimSpace(*url)
	if target == "" {
		return errors.New("--url is required")
	}

	log := newLogger()
	pool, err := credential.Open(strings.TrimSpace(*cookiesDir))
	if err != nil {
		return err
	}
	exec := ytdlp.NewClient(pool, ytdlp.Options{Logger: log})

	s := sched.New(sched.ConfigFromEnv(), exec, pool)
	s.Start()
	defer s.Close()

	id, err := s.Submit(sched.SubmitSpec{
		Kind:         model.KindMetadataProbe,
		RequiresAuth: *auth,
		Request:      model.Request{URL: target},
	})
	if err != nil {
		return err
	}
	job, err := s.Wait(context.Background(), id)
	if err != nil {
		return err
	}
	if job.Status != model.StatusDone {
		return fmt.Errorf("probe %s: %s (%s)", job.Status, job.LastFailure, job.LastError)
	}
	raw, ok := job.Result.([]byte)
	if !ok {
		return fmt.Errorf("probe returned unexpected payload %T", job.Result)
	}
	_, err = os.Stdout.Write(append(raw, '\n'))
	return err
}
