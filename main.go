// Command vela is a non-interactive benchmark and trace-analysis driver for
// the search engine: it runs find_best_move/search_eval over a suite of
// positions, optionally persists per-depth traces to a badger store, and
// renders a node-count chart for the run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/corvusengine/vela/internal/board"
	"github.com/corvusengine/vela/internal/engine"
	"github.com/corvusengine/vela/internal/storage"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

// benchmarkSuite is a small fixed set of positions spanning opening,
// tactical, and endgame play, used when no -fen flag is given.
var benchmarkSuite = []string{
	board.StartFEN,
	"r1bqkb1r/pppp1ppp/2n2n2/4p3/2B1P3/5N2/PPPP1PPP/RNBQK2R w KQkq - 4 4",
	"r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1",
	"8/2p5/3p4/KP5r/1R3p1k/8/4P1P1/8 w - - 0 1",
	"4k3/8/8/8/8/8/4P3/4K3 w - - 0 1",
}

func main() {
	var (
		depth       = flag.Int("depth", 10, "max search depth per position")
		moveTimeMs  = flag.Int("movetime", 3000, "time budget per position, milliseconds")
		concurrency = flag.Int("jobs", 4, "number of positions searched concurrently")
		nnuePath    = flag.String("nnue", "", "path to an NNUE network parameter file (optional)")
		hashMB      = flag.Int("hash", 64, "transposition table size in MB")
		chartPath   = flag.String("chart", "", "write an HTML node-count chart to this path")
		traceDir    = flag.String("trace-db", "", "badger directory for search trace persistence (optional)")
		fen         = flag.String("fen", "", "analyze a single FEN instead of the benchmark suite")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	positions := benchmarkSuite
	if *fen != "" {
		positions = []string{*fen}
	}

	var store *storage.Store
	if *traceDir != "" {
		s, err := storage.OpenAt(*traceDir)
		if err != nil {
			logger.Error("failed to open trace store", slog.Any("error", err))
			os.Exit(1)
		}
		defer s.Close()
		store = s
	}

	results := make([]engine.SearchResult, len(positions))

	bar := progressbar.NewOptions(
		len(positions),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionSetItsString("position"),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
	)

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(*concurrency)

	for i, fenStr := range positions {
		i, fenStr := i, fenStr
		g.Go(func() error {
			result, err := analyzePosition(ctx, fenStr, *depth, *moveTimeMs, *hashMB, *nnuePath, store)
			if err != nil {
				return fmt.Errorf("position %d (%s): %w", i, fenStr, err)
			}
			results[i] = result
			_ = bar.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Println()
		logger.Error("benchmark run failed", slog.Any("error", err))
		os.Exit(1)
	}
	fmt.Println()

	for i, fenStr := range positions {
		r := results[i]
		fmt.Printf("%-64s depth=%2d score=%-10s nodes=%-10d cutoffs=%-8d ttHits=%-8d move=%s\n",
			fenStr, r.Depth, engine.ScoreToString(r.Score), r.Nodes, r.BetaCutoffs, r.TTHits, r.Move.String())
	}

	if *chartPath != "" {
		if err := renderNodeChart(*chartPath, positions, results); err != nil {
			logger.Error("failed to render chart", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

// analyzePosition runs one search in a dedicated Engine (its own
// transposition table and pawn hash table), matching the single-worker
// search model: concurrency here comes from running N independent engines
// side by side, never from sharing a search's mutable state.
func analyzePosition(ctx context.Context, fen string, depth, moveTimeMs, hashMB int, nnuePath string, store *storage.Store) (engine.SearchResult, error) {
	pos, err := board.ParseFEN(fen)
	if err != nil {
		return engine.SearchResult{}, fmt.Errorf("parse fen: %w", err)
	}

	options := []engine.Option{engine.WithHashSizeMB(hashMB)}
	if nnuePath != "" {
		options = append(options, engine.WithNNUE(nnuePath))
	}
	if store != nil {
		options = append(options, engine.WithTraceStore(store))
	}

	eng, err := engine.NewEngine(options...)
	if err != nil {
		return engine.SearchResult{}, err
	}
	if store != nil {
		eng.EnableTrace()
	}

	return eng.Search(ctx, pos, depth, time.Duration(moveTimeMs)*time.Millisecond), nil
}

// renderNodeChart writes an HTML bar chart of nodes searched per position,
// for eyeballing where a benchmark run spent its work.
func renderNodeChart(path string, positions []string, results []engine.SearchResult) error {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Nodes searched per position"}),
	)

	labels := make([]string, len(positions))
	items := make([]opts.BarData, len(positions))
	for i := range positions {
		labels[i] = fmt.Sprintf("pos %d", i+1)
		items[i] = opts.BarData{Value: results[i].Nodes}
	}
	bar.SetXAxis(labels).AddSeries("nodes", items)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	defer f.Close()

	return bar.Render(f)
}
