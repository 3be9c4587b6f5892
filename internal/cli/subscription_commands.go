package cli

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"vod-curator/internal/subs"
)

func runAddSubscription(args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	name := fs.String("name", "", "subscription name (optional; derived from URL)")
	url := fs.String("url", "", "collection/uploader/search URL")
	subType := fs.String("type", subs.TypeCollection, "subscription type: collection|uploader|keyword")
	auth := fs.Bool("auth", false, "source requires authenticated access (cookies)")
	priority := fs.Int("priority", 0, "scheduling priority (higher runs sooner)")
	outputDir := fs.String("output-dir", "", "per-subscription output directory override")
	quality := fs.String("quality", "", "quality preset: best|1080p|720p")
	replace := fs.Bool("replace", false, "replace subscription if it already exists")
	config := fs.String("config", subs.DefaultRegistryPath, "subscription registry path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := subs.Add(subs.AddOptions{
		RegistryPath: strings.TrimSpace(*config),
		Name:         strings.TrimSpace(*name),
		URL:          strings.TrimSpace(*url),
		Type:         strings.TrimSpace(*subType),
		RequiresAuth: *auth,
		Priority:     *priority,
		OutputDir:    strings.TrimSpace(*outputDir),
		Quality:      strings.TrimSpace(*quality),
		Replace:      *replace,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(res)
	}

	action := "added"
	if !res.Created {
		action = "updated"
	}
	fmt.Printf("subscription %s: %s\n", action, res.Subscription.Name)
	fmt.Printf("url: %s\n", res.Subscription.URL)
	fmt.Printf("type: %s | auth: %t | priority: %d\n", res.Subscription.Type, res.Subscription.RequiresAuth, res.Subscription.Priority)
	fmt.Printf("next: vod-curator sync --subscription %s\n", res.Subscription.Name)
	return nil
}

func runListSubscriptions(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	config := fs.String("config", subs.DefaultRegistryPath, "subscription registry path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg, _, err := subs.Ensure(strings.TrimSpace(*config))
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(reg)
	}

	if len(reg.Subscriptions) == 0 {
		fmt.Println("no subscriptions configured")
		fmt.Println("next: vod-curator add --url <collection-url>")
		return nil
	}
	for _, s := range reg.Subscriptions {
		flags := s.Type
		if s.RequiresAuth {
			flags += ", auth"
		}
		if !s.IsActive() {
			flags += ", inactive"
		}
		fmt.Printf("- %s [%s] | %s\n", s.Name, flags, s.URL)
	}
	return nil
}

func runRemoveSubscription(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	name := fs.String("name", "", "subscription name")
	config := fs.String("config", subs.DefaultRegistryPath, "subscription registry path")
	yes := fs.Bool("yes", false, "skip confirmation")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	target := strings.TrimSpace(*name)
	if target == "" {
		return errors.New("--name is required")
	}
	if !*yes {
		ok, err := promptConfirm(fmt.Sprintf("remove subscription %q? [y/N] ", target))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("aborted")
			return nil
		}
	}

	removed, err := subs.Remove(strings.TrimSpace(*config), target)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(removed)
	}
	fmt.Printf("removed subscription: %s (%s)\n", removed.Name, removed.URL)
	return nil
}
