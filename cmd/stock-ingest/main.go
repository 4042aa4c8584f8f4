// Command stock-ingest bulk-loads the catalog and stock counters from
// gzip-compressed supplier feeds. A product row is trusted only when at
// least two feeds agree the product exists; single-feed rows are noise and
// are dropped.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bookshop-checkout/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	numFeeds      = 3
	progressEvery = 1_000_000
)

// productRow is one parsed feed line: id,title,author,price,total_stock.
type productRow struct {
	id     string
	title  string
	author string
	price  decimal.Decimal
	stock  int
}

// feedResult holds candidate rows found in a single feed during pass 2.
type feedResult struct {
	candidates map[string]uint
	rows       map[string]productRow
}

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing stockfeedN.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("stock ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("stock ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	feeds := make([]string, numFeeds)
	for i := range numFeeds {
		feeds[i] = filepath.Join(dataDir, fmt.Sprintf("stockfeed%d.gz", i+1))
	}
	for _, f := range feeds {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check feed %s", f)
		}
	}

	// Pass 1: build one bloom filter of product IDs per feed, concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("feeds", numFeeds))

	filters, err := buildBloomFilters(ctx, feeds)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: keep rows whose product ID appears in 2+ feeds.
	slog.Info("pass 2: finding trusted rows")

	trusted, err := findTrustedRows(ctx, feeds, filters)
	if err != nil {
		return errors.Wrap(err, "find trusted rows")
	}

	slog.Info("trusted products found", slog.Int("count", len(trusted)))

	if len(trusted) == 0 {
		slog.Info("no products to upsert")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeProducts(ctx, pool, trusted); err != nil {
		return errors.Wrap(err, "write products to database")
	}

	return nil
}

// buildBloomFilters creates one bloom filter per feed, concurrently.
func buildBloomFilters(ctx context.Context, feeds []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(feeds))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range feeds {
		g.Go(buildFilterForFeed(ctx, i, f, filters))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

func buildFilterForFeed(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var count uint64

		if err := streamGzFeed(ctx, path, func(row productRow) {
			filter.AddString(row.id)
			count++
			if count%progressEvery == 0 {
				slog.Info("pass 1 progress",
					slog.Int("feed", idx+1),
					slog.Uint64("rows", count),
				)
			}
		}); err != nil {
			return errors.Wrapf(err, "build filter for feed %d", idx+1)
		}

		slog.Info("pass 1 complete",
			slog.Int("feed", idx+1),
			slog.Uint64("total_rows", count),
		)

		filters[idx] = filter
		return nil
	}
}

// findTrustedRows re-streams each feed and checks product IDs against OTHER
// feeds' bloom filters. A row is trusted if its ID appears in 2 or more
// feeds; the last row seen for an ID wins.
func findTrustedRows(ctx context.Context, feeds []string, filters []*bloom.BloomFilter) (map[string]productRow, error) {
	results := make([]feedResult, len(feeds))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range feeds {
		g.Go(findCandidatesInFeed(ctx, i, f, filters, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge bitmasks from all feeds.
	merged := make(map[string]uint)
	rows := make(map[string]productRow)
	for _, r := range results {
		for id, mask := range r.candidates {
			merged[id] |= mask
		}
		for id, row := range r.rows {
			rows[id] = row
		}
	}

	trusted := make(map[string]productRow)
	for id, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			trusted[id] = rows[id]
		}
	}

	return trusted, nil
}

func findCandidatesInFeed(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	results []feedResult,
) func() error {
	return func() error {
		candidates := make(map[string]uint)
		rows := make(map[string]productRow)
		feedBit := uint(1) << uint(idx)
		var count uint64

		if err := streamGzFeed(ctx, path, func(row productRow) {
			count++
			if count%progressEvery == 0 {
				slog.Info("pass 2 progress",
					slog.Int("feed", idx+1),
					slog.Uint64("rows", count),
				)
			}

			// Check if this product appears in any OTHER feed's bloom filter.
			for j, f := range filters {
				if j == idx {
					continue
				}
				if f.TestString(row.id) {
					candidates[row.id] |= feedBit
					rows[row.id] = row
					break
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "scan feed %d for candidates", idx+1)
		}

		slog.Info("pass 2 complete",
			slog.Int("feed", idx+1),
			slog.Uint64("total_rows", count),
			slog.Int("candidates", len(candidates)),
		)

		results[idx] = feedResult{candidates: candidates, rows: rows}
		return nil
	}
}

// streamGzFeed opens a gzip-compressed feed and calls fn for each parsed
// row. Malformed lines are skipped.
func streamGzFeed(ctx context.Context, path string, fn func(row productRow)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, ok := parseRow(scanner.Text())
		if ok {
			fn(row)
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

// parseRow parses "id,title,author,price,total_stock".
func parseRow(line string) (productRow, bool) {
	parts := strings.Split(line, ",")
	if len(parts) != 5 {
		return productRow{}, false
	}

	id := strings.TrimSpace(parts[0])
	if id == "" {
		return productRow{}, false
	}

	price, err := decimal.NewFromString(strings.TrimSpace(parts[3]))
	if err != nil || price.IsNegative() {
		return productRow{}, false
	}

	stock, err := strconv.Atoi(strings.TrimSpace(parts[4]))
	if err != nil || stock < 0 {
		return productRow{}, false
	}

	return productRow{
		id:     id,
		title:  strings.TrimSpace(parts[1]),
		author: strings.TrimSpace(parts[2]),
		price:  price,
		stock:  stock,
	}, true
}

const upsertProduct = `
INSERT INTO products (id, title, author, price, active, total_stock, available)
VALUES ($1, $2, $3, $4, TRUE, $5, $5)
ON CONFLICT (id) DO UPDATE SET
	title       = EXCLUDED.title,
	author      = EXCLUDED.author,
	price       = EXCLUDED.price,
	active      = TRUE,
	available   = GREATEST(0, products.available + (EXCLUDED.total_stock - products.total_stock)),
	total_stock = EXCLUDED.total_stock`

// writeProducts upserts all trusted rows in batches. On conflict the
// catalog columns refresh and availability shifts by the change in total
// stock, floored at zero, so live reservations are preserved.
func writeProducts(ctx context.Context, pool *pgxpool.Pool, trusted map[string]productRow) error {
	const batchSize = 1000

	batch := &pgx.Batch{}
	flushed := 0

	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		br := pool.SendBatch(ctx, batch)
		if err := br.Close(); err != nil {
			return errors.Wrap(err, "send batch")
		}
		flushed += batch.Len()
		batch = &pgx.Batch{}
		return nil
	}

	for _, row := range trusted {
		batch.Queue(upsertProduct, row.id, row.title, row.author, row.price, row.stock)
		if batch.Len() >= batchSize {
			if err := flush(); err != nil {
				return err
			}
			slog.Info("upsert progress", slog.Int("rows", flushed))
		}
	}
	if err := flush(); err != nil {
		return err
	}

	slog.Info("upsert complete", slog.Int("rows", flushed))
	return nil
}
