package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"detentd/internal/debounce"
)

func printVersion() {
	fmt.Printf("detentd v%s\n", version)
	fmt.Println("Rotary encoder and push-button input daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  detentd [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Samples a quadrature rotary encoder and a push-button at a fixed rate,")
	fmt.Println("  decodes one click per detent, debounces the button, and publishes the")
	fmt.Println("  counters over a WebSocket and a Unix socket.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (watched for logging.level changes)")
	fmt.Println()
	fmt.Println("  -sampler string")
	fmt.Println("        Sample source: gpio|replay (default \"gpio\")")
	fmt.Println()
	fmt.Println("  -gpio-chip string")
	fmt.Printf("        GPIO character device (default %q)\n", defaultGPIOChip)
	fmt.Println()
	fmt.Println("  -replay-file string")
	fmt.Println("        File of recorded samples for the replay sampler")
	fmt.Println()
	fmt.Println("  -replay-loop")
	fmt.Println("        Restart the replay file when it ends")
	fmt.Println()
	fmt.Println("  -rate-hz int")
	fmt.Printf("        Sampling rate in Hz (default %d)\n", defaultRateHz)
	fmt.Println()
	fmt.Println("  -button-window int")
	fmt.Printf("        Consecutive closed samples for a press, 1..%d (default %d)\n", debounce.MaxWindow, defaultButtonWindow)
	fmt.Println()
	fmt.Println("  -button-mode string")
	fmt.Println("        Debounce mode: edge|level (default \"edge\")")
	fmt.Println()
	fmt.Println("  -reverse")
	fmt.Println("        Swap clockwise and counter-clockwise")
	fmt.Println()
	fmt.Println("  -state-ws-listen string")
	fmt.Printf("        State WebSocket listen address; empty disables (default %q)\n", defaultStateWSListen)
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultSocketPath)
	fmt.Println()
	fmt.Println("  -lock-memory")
	fmt.Println("        Lock process memory to avoid page faults in the tick")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("ENVIRONMENT:")
	fmt.Println("  DETENTD_SAMPLER_KIND, DETENTD_GPIO_CHIP, DETENTD_REPLAY_FILE, DETENTD_REPLAY_LOOP,")
	fmt.Println("  DETENTD_RATE_HZ, DETENTD_BUTTON_WINDOW, DETENTD_BUTTON_MODE, DETENTD_ENCODER_REVERSE,")
	fmt.Println("  DETENTD_STATE_WS_LISTEN, DETENTD_IPC_SOCKET, DETENTD_LOCK_MEMORY, DETENTD_LOG_LEVEL")
	fmt.Println("  override the config file; flags override the environment.")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start daemon with a config file")
	fmt.Println("  detentd -config /etc/detentd.yaml")
	fmt.Println()
	fmt.Println("  # Bench test without hardware")
	fmt.Println("  detentd -sampler replay -replay-file samples.txt -log-level debug")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires access to the GPIO chip (run as root or add user to 'gpio' group)")
	fmt.Println("  - Button debounce time is button-window / rate-hz (8 / 400 Hz = 20 ms)")
	fmt.Println("  - Sample at more than twice the highest contact bounce frequency")
	fmt.Println()
}

func main() {
	// Check for version/help early
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath    = flag.String("config", "", "Path to YAML config file")
		samplerKind   = flag.String("sampler", "gpio", "Sample source: gpio|replay")
		gpioChip      = flag.String("gpio-chip", defaultGPIOChip, "GPIO character device")
		replayFile    = flag.String("replay-file", "", "File of recorded samples")
		replayLoop    = flag.Bool("replay-loop", false, "Restart the replay file when it ends")
		rateHz        = flag.Int("rate-hz", defaultRateHz, "Sampling rate in Hz")
		buttonWindow  = flag.Int("button-window", defaultButtonWindow, "Consecutive closed samples for a press")
		buttonMode    = flag.String("button-mode", "edge", "Debounce mode: edge|level")
		reverse       = flag.Bool("reverse", false, "Swap clockwise and counter-clockwise")
		stateWSListen = flag.String("state-ws-listen", defaultStateWSListen, "State WebSocket listen address")
		ipcSocketPath = flag.String("ipc-socket", defaultSocketPath, "Unix domain socket path for IPC")
		lockMem       = flag.Bool("lock-memory", false, "Lock process memory")
		logLevelStr   = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		_             = flag.Bool("version", false, "Print version and exit")
		_             = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	// Only flags given on the command line override the file and environment.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var flagOv FlagOverrides
	if set["sampler"] {
		flagOv.SamplerKind = samplerKind
	}
	if set["gpio-chip"] {
		flagOv.GPIOChip = gpioChip
	}
	if set["replay-file"] {
		flagOv.ReplayFile = replayFile
	}
	if set["replay-loop"] {
		flagOv.ReplayLoop = replayLoop
	}
	if set["rate-hz"] {
		flagOv.RateHz = rateHz
	}
	if set["button-window"] {
		flagOv.ButtonWindow = buttonWindow
	}
	if set["button-mode"] {
		flagOv.ButtonMode = buttonMode
	}
	if set["reverse"] {
		flagOv.Reverse = reverse
	}
	if set["state-ws-listen"] {
		flagOv.StateWSListen = stateWSListen
	}
	if set["ipc-socket"] {
		flagOv.IPCSocketPath = ipcSocketPath
	}
	if set["lock-memory"] {
		flagOv.LockMemory = lockMem
	}
	if set["log-level"] {
		flagOv.LogLevel = logLevelStr
	}

	load := func() (Config, error) {
		return loadConfig(*configPath, nil, flagOv)
	}

	cfg, err := load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level) // validated
	logger, levelVar := setupLogger(os.Stdout, logLevel)

	logger.Debug("starting detentd", "version", version)
	logger.Debug("configuration",
		"config", *configPath,
		"sampler", cfg.Sampler.Kind,
		"gpio_chip", cfg.Sampler.Chip,
		"lines", []int{cfg.Sampler.Lines.A, cfg.Sampler.Lines.B, cfg.Sampler.Lines.Button},
		"replay_file", cfg.Sampler.ReplayFile,
		"rate_hz", cfg.Tick.RateHz,
		"encoder_enabled", cfg.Encoder.Enabled,
		"encoder_reverse", cfg.Encoder.Reverse,
		"button_enabled", cfg.Button.Enabled,
		"button_window", cfg.Button.Window,
		"button_mode", cfg.Button.Mode,
		"state_ws_listen", cfg.StateWS.Listen,
		"ipc_socket", cfg.IPC.SocketPath,
		"lock_memory", cfg.Runtime.LockMemory)

	if cfg.Button.Enabled {
		logger.Info("button debounce",
			"window", cfg.Button.Window,
			"mode", cfg.Button.Mode,
			"duration", debounce.Duration(cfg.Button.Window, cfg.Tick.RateHz))
	}
	if cfg.RateTooLow() {
		logger.Warn("tick rate is below twice the expected bounce frequency; bounces may alias into presses",
			"rate_hz", cfg.Tick.RateHz,
			"max_bounce_hz", cfg.Button.MaxBounceHz)
	}

	if cfg.Runtime.LockMemory {
		if err := lockMemory(); err != nil {
			logger.Error("failed to lock memory", "error", err, "tip", "grant CAP_IPC_LOCK or raise RLIMIT_MEMLOCK")
			os.Exit(1)
		}
		logger.Info("memory locked")
	}

	d, err := newDaemon(cfg, nil, logger)
	if err != nil {
		logger.Error("failed to start", "error", err, "sampler", cfg.Sampler.Kind)
		os.Exit(1)
	}

	var watcher *configWatcher
	if *configPath != "" {
		watcher = newConfigWatcher(*configPath, cfg, load, levelVar, logger)
	}

	// Handle shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("listening",
		"sampler", cfg.Sampler.Kind,
		"rate_hz", cfg.Tick.RateHz,
		"period", d.runner.Period(),
		"ipc", cfg.IPC.SocketPath,
		"state_ws", cfg.StateWS.Listen)

	if err := d.run(ctx, watcher); err != nil {
		logger.Error("daemon stopped", "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("shutting down")
}

// loadConfig builds the effective config: defaults, then the file at path
// (if any), then DETENTD_* variables from environ (nil = process
// environment), then flags.
func loadConfig(path string, environ map[string]string, flags FlagOverrides) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfigFile(path); err != nil {
			return Config{}, err
		}
	}

	envOv, err := LoadEnvOverrides(environ)
	if err != nil {
		return Config{}, err
	}
	envOv.Apply(&cfg)
	flags.Apply(&cfg)

	return cfg, nil
}
