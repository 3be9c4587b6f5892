package cli

import "fmt"

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "init":
		return runInit(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "add":
		return runAddSubscription(args[1:])
	case "list":
		return runListSubscriptions(args[1:])
	case "remove":
		return runRemoveSubscription(args[1:])
	case "cookies":
		return runCookies(args[1:])
	case "probe":
		return runProbe(args[1:])
	case "sync":
		return runSync(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("vod-curator: subscription-first video curation and mirroring")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  vod-curator init")
	fmt.Println("  vod-curator add --url <collection-url> [--name <subscription>]")
	fmt.Println("  vod-curator sync")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init      create workspace directories + run environment checks")
	fmt.Println("  doctor    run dependency preflight checks")
	fmt.Println("  add       add/update a tracked subscription")
	fmt.Println("  list      list tracked subscriptions")
	fmt.Println("  remove    remove a subscription")
	fmt.Println("  cookies   show the credential pool (cookie jars)")
	fmt.Println("  probe     fetch metadata for a single video URL")
	fmt.Println("  sync      fetch listings and mirror new videos")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Use --json on commands for machine-readable output")
	fmt.Println("  - sync --interactive opens a live scheduler console")
	fmt.Println("  - VODC_CAP_AUTH, VODC_CAP_OPEN, VODC_THROTTLE tune concurrency")
}
