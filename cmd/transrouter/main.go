package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/transrouter/transrouter/internal/app"
	"github.com/transrouter/transrouter/internal/audio"
	"github.com/transrouter/transrouter/internal/config"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
		listDevices bool
		inputDev    string
		outputDev   string
		inputRate   int
		outputRate  int
		logLevel    string
		label       string
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&listDevices, "list-devices", false, "List audio devices and exit")
	flag.StringVar(&inputDev, "input", "", "Input device name (overrides config)")
	flag.StringVar(&outputDev, "output", "", "Output device name (overrides config)")
	flag.IntVar(&inputRate, "input-rate", 0, "Capture sample rate in Hz (overrides config)")
	flag.IntVar(&outputRate, "output-rate", 0, "Playback sample rate in Hz (overrides config)")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.StringVar(&label, "label", "", "Recording filename label (overrides config)")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	if listDevices {
		if err := printDevices(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(&cfg, inputDev, outputDev, inputRate, outputRate, logLevel, label)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Telemetry.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, logger)
	if err := a.Run(ctx); err != nil {
		logger.Error("pipeline exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func applyFlags(cfg *config.Config, inputDev, outputDev string, inputRate, outputRate int, logLevel, label string) {
	if inputDev != "" {
		cfg.Audio.InputDevice = inputDev
	}
	if outputDev != "" {
		cfg.Audio.OutputDevice = outputDev
	}
	if inputRate > 0 {
		cfg.Audio.InputSampleRate = inputRate
		cfg.Audio.CaptureBlockSize = inputRate / 10
	}
	if outputRate > 0 {
		cfg.Audio.OutputSampleRate = outputRate
		cfg.Audio.PlaybackBlockSize = outputRate / 10
	}
	if logLevel != "" {
		cfg.Telemetry.LogLevel = logLevel
	}
	if label != "" {
		cfg.Recording.Label = label
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printDevices() error {
	if err := audio.Init(); err != nil {
		return err
	}
	defer audio.Terminate()

	devices, err := audio.ListDevices()
	if err != nil {
		return err
	}
	for _, d := range devices {
		var caps []string
		if d.MaxInputChannels > 0 {
			caps = append(caps, fmt.Sprintf("in:%d", d.MaxInputChannels))
		}
		if d.MaxOutputChannels > 0 {
			caps = append(caps, fmt.Sprintf("out:%d", d.MaxOutputChannels))
		}
		marker := " "
		if d.DefaultInput || d.DefaultOutput {
			marker = "*"
		}
		fmt.Printf("%s %2d  %-40s %s  %.0f Hz\n",
			marker, d.Index, d.Name, strings.Join(caps, " "), d.DefaultSampleRate)
	}
	return nil
}
