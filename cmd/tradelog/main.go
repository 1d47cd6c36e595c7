package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gw/options-chain/internal/config"
	"github.com/gw/options-chain/internal/logger"
	"github.com/gw/options-chain/internal/tradelog"
)

const defaultDBPath = "data/journal.db"

var log = logger.Get()

func main() {
	if err := logger.Init("info", "development"); err == nil {
		log = logger.Get()
	}
	defer logger.Sync()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case "orders":
		limit := 50
		if len(os.Args) > 2 {
			if n, err := strconv.Atoi(os.Args[2]); err == nil {
				limit = n
			}
		}
		runOrders(limit)
	case "events":
		if len(os.Args) < 3 {
			usage()
			os.Exit(1)
		}
		id, err := strconv.ParseInt(os.Args[2], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid order id: %s\n", os.Args[2])
			os.Exit(1)
		}
		runEvents(id)
	case "summary":
		runSummary()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: tradelog <command>

Commands:
  orders [N]     Show the last N orders (default 50)
  events <id>    Show the status history of one order
  summary        Show order counts by status

The journal path is JOURNAL_PATH, or data/journal.db when unset.`)
}

func openStore() *tradelog.Store {
	path := defaultDBPath
	if cfg, err := config.Load(); err == nil && cfg.Journal.Path != "" {
		path = cfg.Journal.Path
	}
	store, err := tradelog.Open(path)
	if err != nil {
		log.Errorw("opening journal", "path", path, "err", err)
		os.Exit(1)
	}
	return store
}

func runOrders(limit int) {
	store := openStore()
	defer store.Close()

	rows, err := store.RecentOrders(context.Background(), limit)
	if err != nil {
		log.Errorw("query failed", "err", err)
		os.Exit(1)
	}

	if len(rows) == 0 {
		fmt.Println("No orders journaled yet.")
		return
	}

	fmt.Printf("%8s %-15s %-6s %-9s %8s %2s %-5s %5s %-4s %-11s %8s %-14s\n",
		"ID", "Kind", "Sym", "Expiry", "Strike", "R", "Act", "Qty", "Type", "Status", "Filled", "Updated")
	fmt.Println("-------------------------------------------------------------------------------------------------------------")
	for _, r := range rows {
		fmt.Printf("%8d %-15s %-6s %-9s %8s %2s %-5s %5d %-4s %-11s %8s %-14s\n",
			r.OrderID,
			r.Kind,
			r.Symbol,
			r.Expiry,
			r.Strike,
			r.Right,
			r.Action,
			r.Quantity,
			r.OrderType,
			r.Status,
			humanize.FtoaWithDigits(r.Filled, 2),
			humanize.Time(r.UpdatedTime),
		)
	}
}

func runEvents(id int64) {
	store := openStore()
	defer store.Close()

	rows, err := store.OrderEvents(context.Background(), id)
	if err != nil {
		log.Errorw("query failed", "err", err)
		os.Exit(1)
	}

	if len(rows) == 0 {
		fmt.Printf("No events for order %d.\n", id)
		return
	}

	fmt.Printf("%-26s %-20s %-11s %8s %9s\n", "Event", "Time", "Status", "Filled", "Remaining")
	fmt.Println("-------------------------------------------------------------------------------")
	for _, e := range rows {
		fmt.Printf("%-26s %-20s %-11s %8s %9s\n",
			e.EventID,
			e.EventTime.Local().Format(time.DateTime),
			e.Status,
			humanize.FtoaWithDigits(e.Filled, 2),
			humanize.FtoaWithDigits(e.Remaining, 2),
		)
	}
}

func runSummary() {
	store := openStore()
	defer store.Close()

	rows, err := store.StatusSummary(context.Background())
	if err != nil {
		log.Errorw("query failed", "err", err)
		os.Exit(1)
	}

	if len(rows) == 0 {
		fmt.Println("No orders journaled yet.")
		return
	}

	fmt.Printf("%-11s %8s %10s  %s\n", "Status", "Orders", "Contracts", "Last update")
	fmt.Println("----------------------------------------------------")
	var orders, contracts int
	for _, r := range rows {
		fmt.Printf("%-11s %8s %10s  %s\n",
			r.Status,
			humanize.Comma(int64(r.Orders)),
			humanize.Comma(int64(r.Contracts)),
			r.LastUpdate,
		)
		orders += r.Orders
		contracts += r.Contracts
	}
	fmt.Println("----------------------------------------------------")
	fmt.Printf("%-11s %8s %10s\n", "TOTAL", humanize.Comma(int64(orders)), humanize.Comma(int64(contracts)))
}
