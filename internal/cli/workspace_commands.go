package cli

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"vod-curator/internal/credential"
	"vod-curator/internal/statestore"
	"vod-curator/internal/subs"
	"vod-curator/internal/ytdlp"
)

const (
	defaultCookiesDir   = "cookies"
	defaultDownloadsDir = "downloads"
	defaultStateDir     = "state"
)

type initResult struct {
	RegistryPath    string                `json:"registry_path"`
	CreatedRegistry bool                  `json:"created_registry"`
	CookiesDir      string                `json:"cookies_dir"`
	DownloadsDir    string                `json:"downloads_dir"`
	StateDir        string                `json:"state_dir"`
	Dependencies    ytdlp.DependencyReport `json:"dependencies"`
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	config := fs.String("config", subs.DefaultRegistryPath, "subscription registry path")
	cookiesDir := fs.String("cookies-dir", defaultCookiesDir, "cookie jar directory")
	downloadsDir := fs.String("downloads-dir", defaultDownloadsDir, "download output directory")
	stateDir := fs.String("state-dir", defaultStateDir, "scheduler state directory")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	for _, dir := range []string{*cookiesDir, *downloadsDir, *stateDir} {
		if err := statestore.Mkdir(strings.TrimSpace(dir)); err != nil {
			return err
		}
	}
	_, created, err := subs.Ensure(strings.TrimSpace(*config))
	if err != nil {
		return err
	}

	res := initResult{
		RegistryPath:    strings.TrimSpace(*config),
		CreatedRegistry: created,
		CookiesDir:      strings.TrimSpace(*cookiesDir),
		DownloadsDir:    strings.TrimSpace(*downloadsDir),
		StateDir:        strings.TrimSpace(*stateDir),
		Dependencies:    ytdlp.DependencyStatus(),
	}
	if *jsonOut {
		return printJSON(res)
	}

	fmt.Println("workspace initialized")
	fmt.Printf("registry: %s (created=%t)\n", res.RegistryPath, res.CreatedRegistry)
	fmt.Printf("cookies_dir: %s\n", res.CookiesDir)
	fmt.Printf("downloads_dir: %s\n", res.DownloadsDir)
	fmt.Printf("state_dir: %s\n", res.StateDir)
	printDependencyReport(res.Dependencies)
	if !res.Dependencies.YTDLPFound {
		return errors.New("doctor checks failed")
	}
	fmt.Println("next: vod-curator add --url <collection-url>")
	return nil
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	report := ytdlp.DependencyStatus()
	if *jsonOut {
		return printJSON(report)
	}
	printDependencyReport(report)
	if err := ytdlp.CheckDependencies(); err != nil {
		return err
	}
	fmt.Println("doctor: all checks passed")
	return nil
}

func printDependencyReport(report ytdlp.DependencyReport) {
	fmt.Println("checks:")
	if report.YTDLPFound {
		fmt.Printf("  yt-dlp: ok (%s)\n", report.YTDLPPath)
	} else {
		fmt.Println("  yt-dlp: fail (not found on PATH)")
	}
	if report.FFmpegFound {
		fmt.Printf("  ffmpeg: ok (%s)\n", report.FFmpegPath)
	} else {
		fmt.Println("  ffmpeg: fail (not found on PATH)")
	}
}

func runCookies(args []string) error {
	fs := flag.NewFlagSet("cookies", flag.ContinueOnError)
	cookiesDir := fs.String("cookies-dir", defaultCookiesDir, "cookie jar directory")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	pool, err := credential.Open(strings.TrimSpace(*cookiesDir))
	if err != nil {
		return err
	}
	jars := pool.Jars()
	if *jsonOut {
		return printJSON(jars)
	}

	if len(jars) == 0 {
		fmt.Printf("no cookie jars in %s\n", strings.TrimSpace(*cookiesDir))
		fmt.Println("drop Netscape cookies.txt files there to enable the authenticated channel")
		return nil
	}
	for _, j := range jars {
		state := "ok"
		if j.Banned {
			state = "banned: " + j.BanReason
		}
		fmt.Printf("- %s | failures=%d | %s\n", j.Name, j.Failures, state)
	}
	return nil
}
