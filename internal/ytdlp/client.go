// Package ytdlp is the executor: it performs scheduled work by invoking the
// yt-dlp command line tool and reporting a classified outcome. The scheduler
// never sees yt-dlp; it only consumes the Outcome tags produced here.
package ytdlp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"vod-curator/internal/model"
)

// CredentialSource supplies cookie jars for authenticated calls.
type CredentialSource interface {
	Current(channel model.Channel) (handle string, ok bool)
	CookiesPath(handle string) string
}

// Options tunes the executor. Zero values get sensible defaults.
type Options struct {
	Quality         string
	LimitRateMBps   float64
	ProbeTimeout    time.Duration
	ListTimeout     time.Duration
	ParseTimeout    time.Duration
	DownloadTimeout time.Duration
	Logger          *slog.Logger
}

type Client struct {
	creds CredentialSource
	opts  Options
	log   *slog.Logger
}

func NewClient(creds CredentialSource, opts Options) *Client {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 2 * time.Minute
	}
	if opts.ListTimeout <= 0 {
		opts.ListTimeout = 5 * time.Minute
	}
	if opts.ParseTimeout <= 0 {
		opts.ParseTimeout = 5 * time.Minute
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 2 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Client{creds: creds, opts: opts, log: opts.Logger}
}

// DownloadResult is the opaque payload of a completed download job.
type DownloadResult struct {
	Command   []string `json:"command"`
	OutputDir string   `json:"output_dir"`
}

// Execute runs one job against the upstream provider. The call is bounded by
// a per-kind timeout; a timeout surfaces as a transient failure, which is the
// contract the scheduler relies on.
func (c *Client) Execute(ctx context.Context, job model.Job) model.Outcome {
	url := strings.TrimSpace(job.Request.URL)
	if url == "" {
		return model.Fail(model.FailureNotFound, "job has no target URL")
	}

	handle := ""
	cookiesPath := ""
	if job.RequiresAuth {
		if c.creds == nil {
			return model.Fail(model.FailureAuthInvalid, "no credential source configured")
		}
		h, ok := c.creds.Current(job.Channel)
		if !ok {
			return model.Fail(model.FailureAuthInvalid, "no usable credential for authenticated channel")
		}
		handle = h
		cookiesPath = c.creds.CookiesPath(h)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeoutFor(job.Kind))
	defer cancel()

	var outcome model.Outcome
	switch job.Kind {
	case model.KindMetadataProbe:
		outcome = c.probe(ctx, url, cookiesPath)
	case model.KindListFetch:
		outcome = c.listFetch(ctx, url, cookiesPath)
	case model.KindParse:
		outcome = c.parse(ctx, url, cookiesPath)
	case model.KindDownload:
		outcome = c.download(ctx, job.Request, cookiesPath)
	default:
		return model.Fail(model.FailureNotFound, fmt.Sprintf("unsupported job kind %q", job.Kind))
	}
	if outcome.Failure != nil {
		outcome.Failure.Credential = handle
	}
	return outcome
}

func (c *Client) timeoutFor(kind model.JobKind) time.Duration {
	switch kind {
	case model.KindMetadataProbe:
		return c.opts.ProbeTimeout
	case model.KindListFetch:
		return c.opts.ListTimeout
	case model.KindParse:
		return c.opts.ParseTimeout
	case model.KindDownload:
		return c.opts.DownloadTimeout
	default:
		return c.opts.ProbeTimeout
	}
}

// probe fetches metadata for a single item without downloading media.
func (c *Client) probe(ctx context.Context, url, cookiesPath string) model.Outcome {
	args := []string{"-J", "--no-playlist", "--skip-download"}
	args = appendCookies(args, cookiesPath)
	args = append(args, url)
	stdout, err := c.run(ctx, args)
	if err != nil {
		return classifyRunError(err)
	}
	return model.Succeed(stdout)
}

// listFetch enumerates a collection with a flat playlist probe.
func (c *Client) listFetch(ctx context.Context, url, cookiesPath string) model.Outcome {
	args := []string{"--flat-playlist", "-J"}
	args = appendCookies(args, cookiesPath)
	args = append(args, url)
	stdout, err := c.run(ctx, args)
	if err != nil {
		return classifyRunError(err)
	}
	listing, perr := ParseListing(stdout)
	if perr != nil {
		return model.Fail(model.FailureTransient, fmt.Sprintf("parse listing: %v", perr))
	}
	return model.Succeed(listing)
}

// parse fetches the full (non-flat) metadata document for a collection.
func (c *Client) parse(ctx context.Context, url, cookiesPath string) model.Outcome {
	args := []string{"-J"}
	args = appendCookies(args, cookiesPath)
	args = append(args, url)
	stdout, err := c.run(ctx, args)
	if err != nil {
		return classifyRunError(err)
	}
	return model.Succeed(stdout)
}

func (c *Client) download(ctx context.Context, req model.Request, cookiesPath string) model.Outcome {
	if strings.TrimSpace(req.OutputDir) == "" {
		return model.Fail(model.FailureResourceExhausted, "download job has no output directory")
	}
	args := []string{
		"--no-playlist",
		"--newline",
		"--restrict-filenames",
		"-P", req.OutputDir,
		"-o", "%(uploader)s/%(upload_date)s_%(title).200B_[%(id)s].%(ext)s",
		"--write-info-json",
		"--write-thumbnail",
		"--convert-thumbnails", "jpg",
	}
	if strings.TrimSpace(req.ArchiveFile) != "" {
		args = append(args, "--download-archive", req.ArchiveFile)
	}
	quality := req.Quality
	if quality == "" {
		quality = c.opts.Quality
	}
	args = append(args, "-f", selectFormat(quality))
	if c.opts.LimitRateMBps > 0 {
		args = append(args, "--limit-rate", fmt.Sprintf("%.1fM", c.opts.LimitRateMBps))
	}
	args = appendCookies(args, cookiesPath)
	args = append(args, req.URL)

	if _, err := c.run(ctx, args); err != nil {
		return classifyRunError(err)
	}
	return model.Succeed(DownloadResult{
		Command:   append([]string{"yt-dlp"}, args...),
		OutputDir: req.OutputDir,
	})
}

// runError keeps the captured stderr next to the exec error so the
// classifier can read the provider's complaint.
type runError struct {
	err    error
	stderr string
	ctxErr error
}

func (e *runError) Error() string {
	s := strings.TrimSpace(e.stderr)
	if s == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%v: %s", e.err, s)
}

func (c *Client) run(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "yt-dlp", args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.log.Debug("invoking yt-dlp", "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return nil, &runError{err: err, stderr: stderr.String(), ctxErr: ctx.Err()}
	}
	if stdout.Len() == 0 && needsOutput(args) {
		return nil, &runError{err: fmt.Errorf("yt-dlp returned empty output")}
	}
	return stdout.Bytes(), nil
}

func needsOutput(args []string) bool {
	for _, a := range args {
		if a == "-J" {
			return true
		}
	}
	return false
}

func classifyRunError(err error) model.Outcome {
	var re *runError
	if errors.As(err, &re) {
		if errors.Is(re.ctxErr, context.DeadlineExceeded) {
			return model.Fail(model.FailureTransient, "yt-dlp call timed out")
		}
		if errors.Is(re.ctxErr, context.Canceled) {
			return model.Fail(model.FailureTransient, "yt-dlp call canceled")
		}
		return model.Fail(ClassifyErrorText(re.Error()), truncateDetail(re.Error()))
	}
	return model.Fail(model.FailureTransient, truncateDetail(err.Error()))
}

func truncateDetail(s string) string {
	const maxDetail = 1200
	s = strings.TrimSpace(s)
	if len(s) <= maxDetail {
		return s
	}
	return s[:maxDetail]
}

func appendCookies(args []string, cookiesPath string) []string {
	if strings.TrimSpace(cookiesPath) == "" {
		return args
	}
	return append(args, "--cookies", cookiesPath)
}

func selectFormat(rawQuality string) string {
	switch strings.ToLower(strings.TrimSpace(rawQuality)) {
	case "", "best":
		return "bv*+ba/b"
	case "1080p", "1080", "hd":
		return "bv*[height<=1080]+ba/b[height<=1080]"
	case "720p", "720", "sd", "small":
		return "bv*[height<=720]+ba/b[height<=720]"
	default:
		return "bv*+ba/b"
	}
}
