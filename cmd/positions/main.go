package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"perpKeeper/internal/adapters/logger"
	"perpKeeper/internal/adapters/sqlite"
	"perpKeeper/internal/domain"
)

var (
	dbPath = flag.String("db", "./data/positions.db", "path to the positions database")
	limit  = flag.Int("closed", 20, "number of closed positions to list")
)

func main() {
	flag.Parse()
	ctx := context.Background()

	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: *dbPath,
		Logger: logger.NewStdLogger(logger.LevelWarn),
	})
	if err != nil {
		log.Fatalf("Error opening database: %v", err)
	}
	defer repo.Close()

	open, err := repo.ListOpen(ctx)
	if err != nil {
		log.Fatalf("Error listing open positions: %v", err)
	}
	closed, err := repo.ListClosed(ctx, *limit)
	if err != nil {
		log.Fatalf("Error listing closed positions: %v", err)
	}

	fmt.Printf("## Open positions (%d)\n", len(open))
	printRecords(os.Stdout, open)

	fmt.Printf("\n## Recently closed (%d)\n", len(closed))
	printRecords(os.Stdout, closed)

	fmt.Println("\n## Close reasons")
	for reason, n := range countReasons(closed) {
		fmt.Printf("%-8s %d\n", reason, n)
	}
}

func printRecords(out io.Writer, records []*domain.PositionRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "(none)")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "ID\tSymbol\tSide\tSize\tOriginal\tEntry\tATR\tStage\tTP2s\tOpened\tClosed\tReason\t")
	for _, r := range records {
		closedAt := "-"
		if !r.ClosedAt.IsZero() {
			closedAt = r.ClosedAt.Local().Format(time.DateTime)
		}
		reason := string(r.CloseReason)
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%.4f\t%.4f\t%.4f\t%.4f\t%s\t%d\t%s\t%s\t%s\t\n",
			r.ID, r.Symbol, r.Direction, r.Quantity, r.OriginalQuantity, r.EntryPrice, r.ATR,
			r.Stage(), r.TP2Count, r.OpenedAt.Local().Format(time.DateTime), closedAt, reason)
	}
	w.Flush()
}

func countReasons(records []*domain.PositionRecord) map[domain.CloseReason]int {
	counts := make(map[domain.CloseReason]int)
	for _, r := range records {
		counts[r.CloseReason]++
	}
	return counts
}
