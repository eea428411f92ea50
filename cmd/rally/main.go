// rally - real-time pong match server
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ernie/rally/internal/api"
	"github.com/ernie/rally/internal/arena"
	"github.com/ernie/rally/internal/auth"
	"github.com/ernie/rally/internal/bus"
	"github.com/ernie/rally/internal/config"
	"github.com/ernie/rally/internal/domain"
	"github.com/ernie/rally/internal/game"
	"github.com/ernie/rally/internal/logging"
	"github.com/ernie/rally/internal/outcome"
	"github.com/ernie/rally/internal/storage"
	"github.com/ernie/rally/internal/tournament"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"
)

var version = "dev"

const defaultConfigPath = "/etc/rally/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "player":
		cmdPlayer(os.Args[2:])
	case "token":
		cmdToken(os.Args[2:])
	case "leaderboard":
		cmdLeaderboard(os.Args[2:])
	case "matches":
		cmdMatches(os.Args[2:])
	case "version":
		fmt.Printf("rally %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: rally <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the match server")
	fmt.Println("  player add <name>                   Register a player (prompts for password)")
	fmt.Println("  player list                         List registered players")
	fmt.Println("  player reset <name>                 Reset a player's password")
	fmt.Println("  token <name>                        Print a signed token for a player")
	fmt.Println("  leaderboard [--top N]               Show top players (default: 20)")
	fmt.Println("  matches [--recent N]                Show recent ranked matches (default: 20)")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/rally/config.yml)")
	fmt.Println("  --url <url>        Base URL of the rally server (default: derived from config)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  rally serve --config ./config.yml")
	fmt.Println("  rally player add alice")
	fmt.Println("  rally leaderboard --top 10")
}

// cmdServe starts the match server
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	} else if _, err := os.Stat(defaultConfigPath); err == nil {
		loaded, err := config.Load(defaultConfigPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if err := logging.Setup(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		os.Exit(1)
	}
	if err := serve(cfg); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func serve(cfg *config.Config) error {
	log.Info().Str("version", version).Msg("Rally starting")

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()
	log.Info().Str("path", cfg.Database.Path).Msg("Database initialized")

	// Event bus
	var publisher bus.Publisher = bus.Nop{}
	var embedded *bus.Embedded
	if cfg.NATS.Enabled {
		url := cfg.NATS.URL
		if cfg.NATS.Embedded {
			embedded, err = bus.StartEmbedded(cfg.NATS.Host, cfg.NATS.Port)
			if err != nil {
				return err
			}
			url = embedded.ClientURL()
			log.Info().Str("url", url).Msg("Embedded NATS server started")
		}
		nc, err := bus.Connect(url, cfg.NATS.Name)
		if err != nil {
			if embedded != nil {
				embedded.Shutdown()
			}
			return err
		}
		publisher = nc
		log.Info().Str("url", url).Msg("Publishing match events to NATS")
	}

	// Tournament orchestration, outcome reconciliation and the arena
	orch := tournament.New(nil, tournament.WithArchive(store), tournament.WithPublisher(publisher))
	reconciler := outcome.NewReconciler(store, orch, publisher)

	rules := game.DefaultRules()
	rules.WinningScore = cfg.Game.WinningScore
	rules.TicksPerSecond = cfg.Game.TickRate
	settings := arena.Settings{
		Rules:          rules,
		AISpeedCap:     cfg.Game.AISpeedCap,
		AIRefreshTicks: cfg.Game.AIRefreshTicks,
		FinishedGrace:  cfg.Game.FinishedGrace,
		QueueTimeout:   cfg.Matchmaking.QueueTimeout,
		HandoffTimeout: cfg.Game.ReconcileTimeout,
	}
	coord := arena.NewCoordinator(settings,
		arena.WithReconciler(reconciler),
		arena.WithTournaments(orch),
	)
	orch.Bind(coord, coord)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		arena.NewTickLoop(coord, cfg.Game.TickRate).Run(ctx)
	}()

	var sweeper *arena.Sweeper
	if cfg.Matchmaking.QueueTimeout > 0 {
		sweeper, err = arena.StartSweeper(coord, cfg.Matchmaking.SweepInterval)
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		log.Info().
			Dur("timeout", cfg.Matchmaking.QueueTimeout).
			Dur("interval", cfg.Matchmaking.SweepInterval).
			Msg("Matchmaking expiry scheduled")
	}

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("No JWT secret configured. Auth tokens will use an empty secret.")
	}

	router := api.NewRouter(store, coord, orch, authService, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		WriteTimeout:   cfg.Server.WriteTimeout,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	// Sequential shutdown
	log.Info().Msg("Shutting down HTTP server")
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if sweeper != nil {
		log.Info().Msg("Stopping queue sweeper")
		if err := sweeper.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Scheduler shutdown error")
		}
	}

	log.Info().Msg("Stopping tick loop")
	cancel()
	wg.Wait()

	publisher.Close()
	if embedded != nil {
		log.Info().Msg("Stopping embedded NATS server")
		embedded.Shutdown()
	}

	log.Info().Msg("Shutdown complete")
	return runErr
}

// CLI helper variables
var (
	baseURL = "http://localhost:8080"
	dbPath  string
)

// loadCLIConfigFromFlags loads config using pre-parsed flag values
func loadCLIConfigFromFlags(configPath, url string) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", configPath, err)
		cfg = config.Default()
		if url != "" {
			baseURL = url
		}
	} else if url != "" {
		baseURL = url
	} else {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	}
	dbPath = cfg.Database.Path
	return cfg
}

func loadCLIConfig(args []string) (*config.Config, []string) {
	fs := flag.NewFlagSet("cli", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the rally server")
	fs.Parse(args)

	cfg := loadCLIConfigFromFlags(*configPath, *url)
	return cfg, fs.Args()
}

func getJSON(path string, target interface{}) error {
	url := baseURL + path
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(target)
}

func cmdLeaderboard(args []string) {
	fs := flag.NewFlagSet("leaderboard", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the rally server")
	limit := fs.Int("top", 20, "number of top players to show")
	fs.Parse(args)

	loadCLIConfigFromFlags(*configPath, *url)

	var entries []domain.LeaderboardEntry
	if err := getJSON(fmt.Sprintf("/api/leaderboard?limit=%d", *limit), &entries); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPLAYER\tTIER\tRR\tLEVEL\tGAMES\tWIN%")
	fmt.Fprintln(w, "----\t------\t----\t--\t-----\t-----\t----")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%.0f\n", e.Rank, e.Name, e.RankTier, e.RankPoints, e.Level, e.GamesPlayed, e.WinRate*100)
	}
	w.Flush()
}

func cmdMatches(args []string) {
	fs := flag.NewFlagSet("matches", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the rally server")
	limit := fs.Int("recent", 20, "number of recent matches to show")
	fs.Parse(args)

	loadCLIConfigFromFlags(*configPath, *url)

	var matches []domain.MatchRecord
	if err := getJSON(fmt.Sprintf("/api/matches?limit=%d", *limit), &matches); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(matches) == 0 {
		fmt.Println("No matches recorded")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENDED\tMODE\tPLAYER 1\tSCORE\tPLAYER 2\tWINNER")
	fmt.Fprintln(w, "-----\t----\t--------\t-----\t--------\t------")
	for _, m := range matches {
		winner := "-"
		switch m.WinnerID {
		case m.Player1ID:
			winner = m.Player1Name
		case m.Player2ID:
			winner = m.Player2Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d-%d\t%s\t%s\n",
			m.EndedAt.Local().Format("2006-01-02 15:04"), m.Mode,
			m.Player1Name, m.Player1Score, m.Player2Score, m.Player2Name, winner)
	}
	w.Flush()
}

// cmdPlayer handles player subcommands against the local database
func cmdPlayer(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: player subcommand required: add, list, reset\n")
		os.Exit(1)
	}

	subCmd := args[0]
	_, remaining := loadCLIConfig(args[1:])

	store, err := storage.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()

	switch subCmd {
	case "add":
		err = cmdPlayerAdd(ctx, store, remaining)
	case "list":
		err = cmdPlayerList(ctx, store)
	case "reset":
		err = cmdPlayerReset(ctx, store, remaining)
	default:
		err = fmt.Errorf("unknown player command: %s (use: add, list, reset)", subCmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// readNewPassword prompts twice without echo
func readNewPassword() (string, error) {
	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if string(password) != string(confirm) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(password), nil
}

func cmdPlayerAdd(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: rally player add <name>")
	}
	name := strings.TrimSpace(args[0])

	if _, err := store.GetPlayerByName(ctx, name); err == nil {
		return fmt.Errorf("player '%s' already exists", name)
	}

	password, err := readNewPassword()
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	player, err := store.CreatePlayer(ctx, name, hash)
	if err != nil {
		return fmt.Errorf("failed to create player: %w", err)
	}
	fmt.Printf("Player '%s' created (id %d)\n", player.Name, player.ID)
	return nil
}

func cmdPlayerList(ctx context.Context, store *storage.Store) error {
	players, err := store.ListPlayers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list players: %w", err)
	}

	if len(players) == 0 {
		fmt.Println("No players registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTIER\tRR\tLEVEL\tW-L\tCREATED")
	fmt.Fprintln(w, "--\t----\t----\t--\t-----\t---\t-------")
	for _, p := range players {
		pr := p.Progression
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d-%d\t%s\n",
			p.ID, p.Name, pr.RankTier, pr.RankPoints, pr.Level, pr.GamesWon, pr.GamesLost,
			p.CreatedAt.Local().Format("2006-01-02"))
	}
	return w.Flush()
}

func cmdPlayerReset(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: rally player reset <name>")
	}
	player, err := store.GetPlayerByName(ctx, args[0])
	if err != nil {
		return err
	}

	password, err := readNewPassword()
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := store.UpdatePassword(ctx, player.ID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	fmt.Printf("Password for '%s' reset\n", player.Name)
	return nil
}

// cmdToken signs a token for a registered player with the configured secret
func cmdToken(args []string) {
	cfg, remaining := loadCLIConfig(args)
	if len(remaining) < 1 {
		fmt.Fprintf(os.Stderr, "Error: usage: rally token <name>\n")
		os.Exit(1)
	}

	store, err := storage.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	player, err := store.GetPlayerByName(context.Background(), remaining[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	token, expires, err := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration).GenerateToken(player.ID, player.Name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expires.Local().Format(time.RFC1123))
}
