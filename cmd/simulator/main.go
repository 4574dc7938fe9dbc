package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"microgrid_simulator/internal/agents"
	"microgrid_simulator/internal/bus"
	"microgrid_simulator/internal/config"
	"microgrid_simulator/internal/coordinator"
	"microgrid_simulator/internal/eventlog"
	"microgrid_simulator/internal/model"
	"microgrid_simulator/internal/ws"
)

func main() {
	scenarioPath := flag.String("scenario", "", "scenario YAML file (defaults apply when empty)")
	addr := flag.String("addr", ":8080", "listen address for dashboard and metrics")
	rounds := flag.Int("rounds", 0, "number of rounds to run (0 = until interrupted)")
	postgresDSN := flag.String("postgres-log", "", "Postgres DSN for the persistent event log (empty = in-memory only)")
	seed := flag.Int64("seed", 0, "RNG seed (0 = time based)")
	flag.Parse()

	cfg := config.Default()
	if *scenarioPath != "" {
		var err error
		cfg, err = config.Load(*scenarioPath)
		if err != nil {
			log.Fatalf("Failed to load scenario: %v", err)
		}
		log.Printf("Scenario: %s", cfg.Name)
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Event sink
	var events eventlog.Sink = eventlog.NewMemory()
	if *postgresDSN != "" {
		pg, err := eventlog.NewPostgres(ctx, *postgresDSN)
		if err != nil {
			log.Fatalf("Failed to open event log database: %v", err)
		}
		events = pg
	}
	defer events.Close()

	// WebSocket dashboard
	hub := ws.NewHub()
	bridge := ws.NewBridge(hub)

	b := bus.New()
	coord := coordinator.New(coordinator.Options{
		Config:   cfg,
		Bus:      b,
		Events:   events,
		Observer: bridge,
		RNG:      rand.New(rand.NewSource(*seed)),
		Expected: coordinator.ExpectedCounts{
			Households: cfg.Simulation.NumConsumers + cfg.Simulation.NumProsumers,
			Producers:  2,
			Storage:    1,
		},
	})

	// HTTP routes
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/ws", ws.NewHandler(hub, bridge))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		log.Printf("Starting dashboard on %s", *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server: %v", err)
		}
	}()

	var wg sync.WaitGroup
	spawn := func(run func(context.Context) error, name string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("%s stopped: %v", name, err)
			}
		}()
	}

	// Participants
	var recipients []string
	addAgent := func(id string) string {
		recipients = append(recipients, id)
		return id
	}

	for i := 1; i <= cfg.Simulation.NumConsumers; i++ {
		id := addAgent(fmt.Sprintf("household_%d", i))
		h := agents.NewHousehold(model.ParticipantID(id), b, cfg.Households, rng(*seed, id), false)
		spawn(h.Run, id)
	}
	for i := 1; i <= cfg.Simulation.NumProsumers; i++ {
		id := addAgent(fmt.Sprintf("prosumer_%d", i))
		h := agents.NewHousehold(model.ParticipantID(id), b, cfg.Households, rng(*seed, id), true)
		spawn(h.Run, id)
	}
	solar := agents.NewProducer(model.ParticipantID(addAgent("producer_solar")), b, cfg.Producers, rng(*seed, "producer_solar"), model.ProductionSolar)
	spawn(solar.Run, "producer_solar")
	wind := agents.NewProducer(model.ParticipantID(addAgent("producer_wind")), b, cfg.Producers, rng(*seed, "producer_wind"), model.ProductionWind)
	spawn(wind.Run, "producer_wind")
	storage := agents.NewStorage(model.ParticipantID(addAgent("storage_1")), b, cfg.Storage, rng(*seed, "storage_1"))
	spawn(storage.Run, "storage_1")

	recipients = append(recipients, bus.CoordinatorAddr)
	env := agents.NewEnvironment(b, cfg.Environment, rng(*seed, "environment"), recipients)
	spawn(env.Run, "environment")

	// Coordinator runs on the main goroutine.
	if err := coord.Run(ctx, *rounds); err != nil && ctx.Err() == nil {
		log.Printf("Coordinator stopped: %v", err)
	}

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	wg.Wait()

	log.Printf("Final net balance: €%.2f", coord.Performance().CumulativeNetBalance())
}

// rng derives a per-agent RNG so agents do not share a stream.
func rng(seed int64, id string) *rand.Rand {
	var h int64
	for _, c := range id {
		h = h*31 + int64(c)
	}
	return rand.New(rand.NewSource(seed ^ h))
}
