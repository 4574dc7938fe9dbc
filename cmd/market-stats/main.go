// market-stats summarizes a persisted simulation event log.
//
// It reads the events and auction_results tables written by the simulator's
// -postgres-log option and prints trade volume, price statistics, and the
// most active participants.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type kindCount struct {
	Kind  string
	Count int64
}

type participantVolume struct {
	Agent string
	KWh   float64
	EUR   float64
}

func main() {
	dsn := flag.String("postgres", "", "PostgreSQL connection string of the event log")
	top := flag.Int("top", 5, "number of participants to list per ranking")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("market-stats: -postgres connection string is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		log.Fatalf("market-stats: connect: %v", err)
	}
	defer pool.Close()

	var rounds, trades int64
	var tradedKWh, tradedEUR, avgPrice float64
	err = pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT round_id), COUNT(*),
		       COALESCE(SUM(kwh), 0), COALESCE(SUM(kwh * price), 0),
		       COALESCE(AVG(price), 0)
		FROM auction_results`).Scan(&rounds, &trades, &tradedKWh, &tradedEUR, &avgPrice)
	if err != nil {
		log.Fatalf("market-stats: aggregate query: %v", err)
	}

	fmt.Println()
	fmt.Println("Market Summary")
	fmt.Println("==============")
	fmt.Printf("Rounds with trades:  %d\n", rounds)
	fmt.Printf("Trades:              %d\n", trades)
	fmt.Printf("Energy traded:       %.2f kWh\n", tradedKWh)
	fmt.Printf("Market value:        €%.2f\n", tradedEUR)
	fmt.Printf("Average price:       €%.4f/kWh\n", avgPrice)

	sellers, err := topParticipants(ctx, pool, "seller", *top)
	if err != nil {
		log.Fatalf("market-stats: seller ranking: %v", err)
	}
	buyers, err := topParticipants(ctx, pool, "buyer", *top)
	if err != nil {
		log.Fatalf("market-stats: buyer ranking: %v", err)
	}

	fmt.Println()
	fmt.Println("Top Sellers")
	printRanking(sellers)
	fmt.Println()
	fmt.Println("Top Buyers")
	printRanking(buyers)

	kinds, err := eventKinds(ctx, pool)
	if err != nil {
		log.Fatalf("market-stats: event kinds: %v", err)
	}

	fmt.Println()
	fmt.Println("Events by Kind")
	for _, k := range kinds {
		fmt.Printf("  %-20s %d\n", k.Kind, k.Count)
	}
	fmt.Println()
}

// topParticipants ranks one side of the book by traded volume. The column
// name is fixed by the two call sites, never user input.
func topParticipants(ctx context.Context, pool *pgxpool.Pool, column string, limit int) ([]participantVolume, error) {
	rows, err := pool.Query(ctx, fmt.Sprintf(`
		SELECT %s, SUM(kwh), SUM(kwh * price)
		FROM auction_results
		GROUP BY %s
		ORDER BY SUM(kwh) DESC
		LIMIT $1`, column, column), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []participantVolume
	for rows.Next() {
		var p participantVolume
		if err := rows.Scan(&p.Agent, &p.KWh, &p.EUR); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func eventKinds(ctx context.Context, pool *pgxpool.Pool) ([]kindCount, error) {
	rows, err := pool.Query(ctx, `
		SELECT kind, COUNT(*)
		FROM events
		GROUP BY kind
		ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []kindCount
	for rows.Next() {
		var k kindCount
		if err := rows.Scan(&k.Kind, &k.Count); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func printRanking(ranked []participantVolume) {
	if len(ranked) == 0 {
		fmt.Println("  (no trades)")
		return
	}
	for i, p := range ranked {
		fmt.Printf("  %d. %-20s %8.2f kWh  €%.2f\n", i+1, p.Agent, p.KWh, p.EUR)
	}
}
