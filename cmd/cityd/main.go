package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/thecity/server/internal/api"
	"github.com/thecity/server/internal/clock"
	"github.com/thecity/server/internal/config"
	"github.com/thecity/server/internal/engine"
	gonet "github.com/thecity/server/internal/net"
	"github.com/thecity/server/internal/persist"
	"github.com/thecity/server/internal/scripting"
	"github.com/thecity/server/internal/tilemap"
	"github.com/thecity/server/internal/token"
	"github.com/thecity/server/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              the city  v0.1.0             \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m      a persistent town for residents      \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s\n\n", serverName)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/city.toml"
	if p := os.Getenv("CITYD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name)

	// 3. Connect to PostgreSQL and run migrations
	printSection("database")

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelBoot()

	db, err := persist.NewDB(bootCtx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	printOK("postgres connected")

	if err := persist.RunMigrations(bootCtx, db.Pool); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	printOK("migrations applied")
	fmt.Println()

	residentRepo := persist.NewResidentRepo(db)
	civicRepo := persist.NewCivicRepo(db)
	eventRepo := persist.NewEventRepo(db)

	// 4. Load the map and rebuild the world
	printSection("world")

	m, seeds, err := tilemap.Load(cfg.Server.MapPath)
	if err != nil {
		return fmt.Errorf("load map: %w", err)
	}
	printStat("buildings", len(m.Buildings))

	worldTime, err := resumeWorldTime(bootCtx, eventRepo)
	if err != nil {
		return fmt.Errorf("resume world time: %w", err)
	}
	st := world.NewState(m, clock.NewAt(cfg.Sim.TimeScale, worldTime))

	for _, s := range seeds {
		st.AddForageNode(&world.ForageableNode{
			ID: s.ID, Kind: s.Kind, X: s.X, Y: s.Y,
			UsesRemaining: s.MaxUses, MaxUses: s.MaxUses, Regrow: s.Regrow,
		})
	}
	printStat("forageables", len(seeds))

	if err := loadCivic(bootCtx, st, civicRepo); err != nil {
		return fmt.Errorf("load civic tables: %w", err)
	}
	printStat("jobs", len(st.Jobs))
	printStat("laws", len(st.Laws))
	printStat("petitions", len(st.Petitions))

	residentCount, err := loadResidents(bootCtx, st, residentRepo, log)
	if err != nil {
		return fmt.Errorf("load residents: %w", err)
	}
	printStat("residents", residentCount)

	// 5. Lua scripting engine
	scripts, err := scripting.NewEngine(cfg.Server.ScriptDir, log)
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer scripts.Close()

	// The facade narrates the public feed on request goroutines, so it gets
	// its own VM instead of sharing the tick worker's.
	feedScripts, err := scripting.NewEngine(cfg.Server.ScriptDir, log)
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer feedScripts.Close()
	printOK("lua scripts loaded")
	fmt.Println()

	// 6. Token authority and async writer
	auth, err := token.NewAuthority(cfg.Registry.TokenKey, cfg.Registry.TokenTTL)
	if err != nil {
		return fmt.Errorf("token authority: %w", err)
	}

	writer := persist.NewWriter(cfg.Database.WriteQueueSize, log)
	// Background context: the writer outlives signal cancellation so the
	// final checkpoint can drain.
	writer.Start(context.Background())

	// 7. Gateway, engine, facade
	gateway := gonet.NewGateway(cfg.Network, auth, log)
	eng := engine.New(cfg, st, scripts, gateway, writer, engine.Repos{
		Residents: residentRepo,
		Civic:     civicRepo,
		Events:    eventRepo,
	}, log)
	facade := api.New(cfg, eng, m, residentRepo, eventRepo, auth, feedScripts, log)

	printSection("server ready")
	printReady(fmt.Sprintf("gateway listening on %s", cfg.Network.BindAddress))
	printReady(fmt.Sprintf("facade listening on %s", cfg.Server.BindHTTP))
	printReady(fmt.Sprintf("world time %.0f (day %d)", worldTime, st.Clock.Day()))
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(gateway.ListenAndServe)
	g.Go(facade.ListenAndServe)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := facade.Shutdown(shutCtx); err != nil {
			log.Warn("facade shutdown", zap.Error(err))
		}
		return gateway.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// resumeWorldTime restarts the clock where the event log left off. A fresh
// database opens the city at 08:00 on day zero.
func resumeWorldTime(ctx context.Context, events *persist.EventRepo) (float64, error) {
	rows, err := events.Recent(ctx, 1)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 8 * 3600, nil
	}
	return rows[0].WorldTime, nil
}

// loadCivic mirrors the civic tables into world state. Vote tallies are
// rebuilt by replaying ballots, so the ballot rows stay authoritative.
func loadCivic(ctx context.Context, st *world.State, repo *persist.CivicRepo) error {
	jobs, err := repo.LoadJobs(ctx)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		st.Jobs[j.ID] = &world.Job{
			ID: j.ID, Title: j.Title, BuildingID: j.BuildingID,
			Wage: j.Wage, ShiftHours: j.ShiftHours,
			MaxPositions: j.MaxPositions, Description: j.Description,
		}
	}

	laws, err := repo.LoadLaws(ctx)
	if err != nil {
		return err
	}
	for _, l := range laws {
		st.Laws[l.ID] = &world.Law{
			ID: l.ID, Name: l.Name, Description: l.Description,
			SentenceHours: l.SentenceHours,
		}
	}

	petitions, votes, err := repo.LoadPetitions(ctx)
	if err != nil {
		return err
	}
	for _, p := range petitions {
		st.Petitions[p.ID] = &world.Petition{
			ID: p.ID, Author: p.AuthorID, Category: p.Category,
			Description: p.Description, Status: world.PetitionStatus(p.Status),
			OpenedAt: p.OpenedAt,
		}
	}
	for _, v := range votes {
		if p := st.Petitions[v.PetitionID]; p != nil {
			st.RecordVote(p, v.ResidentID, world.VoteChoice(v.Choice))
		}
	}
	st.SeedPetitionSeq()

	stock, err := repo.LoadStock(ctx)
	if err != nil {
		return err
	}
	for item, qty := range stock {
		st.Stock[item] = qty
	}
	if len(st.Stock) == 0 {
		seedStock(st)
	}
	return nil
}

// seedStock fills the shop on a fresh database.
func seedStock(st *world.State) {
	initial := map[string]int{
		"bread": 30, "apple": 40, "meal": 15,
		"water_bottle": 50, "coffee": 20, "sleeping_bag": 8,
	}
	for item, qty := range initial {
		st.Stock[item] = qty
	}
}

// loadResidents rebuilds resident entities from their checkpointed rows.
// Queued residents rejoin the train queue; alive ones stand where they were.
func loadResidents(ctx context.Context, st *world.State, repo *persist.ResidentRepo, log *zap.Logger) (int, error) {
	rows, err := repo.LoadActive(ctx)
	if err != nil {
		return 0, err
	}
	items, err := repo.LoadItems(ctx)
	if err != nil {
		return 0, err
	}

	for i := range rows {
		row := &rows[i]
		r := &world.Resident{
			ID:            row.ID,
			Passport:      row.Passport,
			FullName:      row.Name,
			PreferredName: row.Name,
			Type:          world.ResidentType(row.Type),
			Status:        world.Status(row.Status),
			X:             row.X,
			Y:             row.Y,
			Facing:        row.Facing,
			BuildingID:    row.BuildingID,
			Needs: world.Needs{
				Hunger: row.Hunger, Thirst: row.Thirst, Energy: row.Energy,
				Bladder: row.Bladder, Health: row.Health, Social: row.Social,
			},
			Wallet:            row.Wallet,
			Inv:               world.NewInventory(),
			Violations:        row.Violations,
			Wanted:            row.Wanted,
			ImprisonedUntil:   row.ImprisonedUntil,
			LastUBICollection: row.LastUBI,
			FeedbackToken:     row.FeedbackToken,
			AnchorX:           row.X,
			AnchorY:           row.Y,
			AnchorTime:        st.Clock.Now(),
			ArrivedAt:         row.ArrivedAt,
			DiedAt:            row.DiedAt,
			DeathCause:        row.DeathCause,
		}
		if fields := strings.Fields(row.Name); len(fields) > 0 {
			r.PreferredName = fields[0]
		}
		if row.JobID != 0 {
			r.Job = &world.Employment{JobID: row.JobID, ShiftElapsed: row.ShiftElapsed}
		}
		for _, it := range items[row.ID] {
			r.Inv.Items = append(r.Inv.Items, &world.Item{
				ID:            it.ID,
				Type:          it.ItemType,
				Quantity:      it.Quantity,
				RemainingUses: it.RemainingUses,
			})
		}

		st.AddResident(r)
		if r.Status == world.StatusQueued {
			st.EnqueueTrain(r.ID)
		}
		if r.Status == world.StatusDeceased {
			// Body was not collected before the last shutdown; put it back.
			st.AddBody(&world.Body{
				ID: r.ID, Name: r.PreferredName, X: r.X, Y: r.Y, DiedAt: r.DiedAt,
			})
		}
	}
	if n := len(rows); n > 0 {
		log.Info("residents rehydrated", zap.Int("count", n))
	}
	return len(rows), nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
