package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"veloxbot/internal/app"
	"veloxbot/internal/config"
	"veloxbot/internal/fetch"
	"veloxbot/internal/storage"
	"veloxbot/internal/watch"
	logx "veloxbot/pkg/logx"
)

const tokenEnv = "VELOXBOT_TOKEN"

func main() {
	var (
		cfgPath   string
		offline   string
		checkOnce bool
		printList bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.StringVar(&offline, "offline", "", "read the camera page from a local file instead of the live site")
	flag.BoolVar(&checkOnce, "check", false, "run one fetch/diff/persist cycle without notifications and exit")
	flag.BoolVar(&printList, "print-list", false, "fetch and print the current camera list, then exit")
	flag.Parse()

	// Missing .env is fine; the environment may be set by systemd.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if printList {
		exit(runPrintList(ctx, cfgPath, offline))
	}
	if checkOnce {
		exit(runCheck(ctx, cfgPath, offline))
	}

	a, err := app.New(cfgPath, app.Options{
		Token:       os.Getenv(tokenEnv),
		OfflinePath: offline,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func exit(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	os.Exit(0)
}

// runPrintList fetches the page once and prints the parsed cameras.
// No storage, no Telegram.
func runPrintList(ctx context.Context, cfgPath, offline string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	fetchCfg, err := cfg.FetchConfig()
	if err != nil {
		return err
	}
	fetchCfg.OfflinePath = offline
	fetcher := fetch.New(fetchCfg, logx.NewConsole("warn"))

	set, err := fetcher.Fetch(ctx)
	if err != nil {
		return err
	}
	for _, cam := range set.Sorted() {
		if cam.HasLocation() {
			fmt.Printf("%s\t%f,%f\n", cam.Name, cam.Lat, cam.Lon)
		} else {
			fmt.Println(cam.Name)
		}
	}
	return nil
}

// runCheck runs one full cycle against the configured store but without
// a delivery gateway, so the baseline updates silently.
func runCheck(ctx context.Context, cfgPath, offline string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	log := logx.NewConsole("info")

	storeCfg, err := cfg.StorageConfig()
	if err != nil {
		return err
	}
	store, err := storage.Open(storeCfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	fetchCfg, err := cfg.FetchConfig()
	if err != nil {
		return err
	}
	fetchCfg.OfflinePath = offline
	fetcher := fetch.New(fetchCfg, log)

	pipeCfg, err := cfg.PipelineConfig()
	if err != nil {
		return err
	}
	pipe, err := watch.NewPipeline(pipeCfg, fetcher, store, nil, nil, log)
	if err != nil {
		return err
	}

	res, err := pipe.Run(ctx, true)
	if err != nil {
		return err
	}
	fmt.Printf("added=%d changed=%v persisted=%v\n", len(res.Added), res.Changed, res.Persisted)
	for _, cam := range res.Added {
		if cam.HasLocation() {
			fmt.Printf("new: %s (%f, %f)\n", cam.Name, cam.Lat, cam.Lon)
		} else {
			fmt.Println("new:", cam.Name)
		}
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	return config.NewManager(path).Load()
}
