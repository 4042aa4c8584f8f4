// Command seed-db runs migrations and loads the bookshop catalog from a
// JSON file. Intended for local development and demo environments.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookshop-checkout/internal/storage/postgres"
)

type bookJSON struct {
	ID     string          `json:"id"`
	Title  string          `json:"title"`
	Author string          `json:"author"`
	Price  decimal.Decimal `json:"price"`
	Image  string          `json:"image"`
	Stock  int             `json:"stock"`
}

func main() {
	var (
		databaseURL string
		booksFile   string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&booksFile, "books-file", "db/seed/books.json", "path to books JSON file")
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

	if err := run(ctx, databaseURL, booksFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, booksFile string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedBooks(ctx, pool, booksFile); err != nil {
		return errors.Wrap(err, "seed books")
	}

	return nil
}

const upsertBook = `
INSERT INTO products (id, title, author, price, image, active, total_stock, available)
VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
ON CONFLICT (id) DO UPDATE SET
	title       = EXCLUDED.title,
	author      = EXCLUDED.author,
	price       = EXCLUDED.price,
	image       = EXCLUDED.image,
	active      = TRUE,
	available   = GREATEST(0, products.available + (EXCLUDED.total_stock - products.total_stock)),
	total_stock = EXCLUDED.total_stock`

func seedBooks(ctx context.Context, pool *pgxpool.Pool, booksFile string) error {
	slog.Info("reading books file", slog.String("path", booksFile))

	data, err := os.ReadFile(booksFile)
	if err != nil {
		return errors.Wrap(err, "read books file")
	}

	var books []bookJSON
	if err := json.Unmarshal(data, &books); err != nil {
		return errors.Wrap(err, "parse books JSON")
	}

	slog.Info("upserting books", slog.Int("count", len(books)))

	for _, b := range books {
		if _, err := pool.Exec(ctx, upsertBook, b.ID, b.Title, b.Author, b.Price, b.Image, b.Stock); err != nil {
			return errors.Wrapf(err, "upsert book %s", b.ID)
		}

		slog.Info("upserted book", slog.String("id", b.ID), slog.String("title", b.Title))
	}

	return nil
}
