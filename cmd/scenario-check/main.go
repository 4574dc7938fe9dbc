package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"microgrid_simulator/internal/config"
)

// scenario-check validates scenario files and prints the resolved
// configuration, so a bad file fails here instead of mid-run.
func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: scenario-check <scenario.yaml> [...]")
		os.Exit(2)
	}

	failed := false
	for _, path := range flag.Args() {
		cfg, err := config.Load(path)
		if err != nil {
			log.Printf("%s: INVALID: %v", path, err)
			failed = true
			continue
		}
		printScenario(path, cfg)
	}
	if failed {
		os.Exit(1)
	}
}

func printScenario(path string, cfg *config.Scenario) {
	fmt.Printf("%s: OK\n", path)
	fmt.Printf("  name:          %s\n", cfg.Name)
	fmt.Printf("  households:    %d consumers, %d prosumers\n",
		cfg.Simulation.NumConsumers, cfg.Simulation.NumProsumers)
	fmt.Printf("  round:         %.0fs sleep, %.0fs offer window, %.1fs status grace\n",
		cfg.Simulation.RoundSleepSeconds, cfg.Simulation.OffersTimeout, cfg.Simulation.StatusGraceSeconds)
	fmt.Printf("  transmission:  %.1f kWh per buyer per round\n", cfg.Simulation.TransmissionLimitKW)

	exLo, exHi := cfg.ExternalGrid.MicrogridExportPriceRange()
	imLo, imHi := cfg.ExternalGrid.MicrogridImportPriceRange()
	fmt.Printf("  external grid: enabled=%t accept=%.0f%% import €%.2f-%.2f export €%.2f-%.2f\n",
		cfg.ExternalGrid.IsEnabled(), cfg.ExternalGrid.AcceptanceProb*100, imLo, imHi, exLo, exHi)

	fmt.Printf("  producers:     solar %.0f kW, wind %.0f kW, failure p=%.2f over %d-%d rounds\n",
		cfg.Producers.SolarCapacityKW, cfg.Producers.WindCapacityKW,
		cfg.Producers.FailureProb, cfg.Producers.FailureRoundsRange.Lo, cfg.Producers.FailureRoundsRange.Hi)
	fmt.Printf("  storage:       %.0f kWh, emergency-only=%t, initial SOC %.0f%%\n",
		cfg.Storage.CapacityKWh, cfg.Storage.EmergencyOnly, cfg.Storage.InitialSOC*100)
	fmt.Printf("  reporting:     every %d rounds\n", cfg.Metrics.ReportIntervalRounds)
}
