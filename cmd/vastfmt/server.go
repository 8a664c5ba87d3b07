package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/vastfmt/internal/api"
	"github.com/kalambet/vastfmt/internal/audio"
	"github.com/kalambet/vastfmt/internal/config"
	"github.com/kalambet/vastfmt/internal/gpio"
	"github.com/kalambet/vastfmt/internal/hardware"
	"github.com/kalambet/vastfmt/internal/panel"
	"github.com/kalambet/vastfmt/internal/serial"
	"github.com/kalambet/vastfmt/internal/settings"
	"github.com/kalambet/vastfmt/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the vastfmt server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running vastfmt server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vastfmt server and transmitter status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "vastfmt.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// services is everything the HTTP and MCP surfaces share.
type services struct {
	store    *storage.Store
	profile  hardware.Profile
	router   *audio.Router
	settings *settings.Manager
	pins     *gpio.Client
	devices  func() ([]string, error)
}

func openServices(cfg config.Config) (*services, error) {
	catalog, err := hardware.Load()
	if err != nil {
		return nil, fmt.Errorf("loading hardware profiles: %w", err)
	}
	profile, err := catalog.Resolve(cfg.Hardware.Profile)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	mgr := settings.NewManager(store, settings.Defaults(profile, cfg.Hardware.Platform)).
		WithKeys(settings.KeysFor(profile))
	if err := mgr.EnsureDefaults(); err != nil {
		store.Close()
		return nil, fmt.Errorf("initializing settings: %w", err)
	}

	pattern := cfg.Serial.Pattern
	return &services{
		store:    store,
		profile:  profile,
		settings: mgr,
		router: audio.NewRouter(audio.RouterConfig{
			CardsPath:    cfg.Alsa.CardsPath,
			AlsaConfPath: cfg.Alsa.ConfPath,
			RcPath:       cfg.Alsa.AsoundrcPath,
			Match:        profile.CardMatch,
		}),
		pins:    gpio.New(cfg.Host.GPIOURL),
		devices: func() ([]string, error) { return serial.ListDevices(pattern) },
	}, nil
}

func (s *services) Close() error {
	return s.store.Close()
}

func (s *services) handler(token string) http.Handler {
	return api.NewHandler(api.Deps{
		Router:   s.router,
		Settings: s.settings,
		Panel: panel.New(panel.Deps{
			Profile:  s.profile,
			Router:   s.router,
			Settings: s.settings,
			Pins:     s.pins,
			Devices:  s.devices,
		}),
		Pins:    s.pins,
		Devices: s.devices,
		Token:   token,
	})
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "vastfmt version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	// Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("vastfmt is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("vastfmt is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := openServices(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	slog.Info("transmitter profile", "name", svc.profile.Name, "card_match", svc.profile.CardMatch)

	if det, err := svc.router.Detect(ctx); err == nil && det.Present {
		slog.Info("FM transmitter detected", "card", det.Index, "name", det.Card.Name)
	} else {
		slog.Warn("FM transmitter not detected", "cards", cfg.Alsa.CardsPath)
	}
	if !svc.pins.IsAvailable(ctx) {
		slog.Warn("GPIO host unreachable, reset pin list will be unavailable", "url", cfg.Host.GPIOURL)
	}
	if cfg.Server.APIToken == "" {
		slog.Warn("no API token configured, /api is unauthenticated", "env", "VASTFMT_API_TOKEN")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	srv := &http.Server{
		Handler:           svc.handler(cfg.Server.APIToken),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "vastfmt listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("vastfmt is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop vastfmt (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to vastfmt (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if running {
		c := &apiClient{baseURL: serverURL, token: cfg.Server.APIToken, httpClient: client}
		if st, err := fetchStatus(ctx, c); err == nil {
			printDetection(st)
		} else {
			printWarning("could not read transmitter status: %v", err)
		}
	}

	printStatus("Profile", "%s", cfg.Hardware.Profile)
	printStatus("ALSA user config", "%s", cfg.Alsa.AsoundrcPath)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
