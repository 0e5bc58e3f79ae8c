package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PGRepository stores product documents in PostgreSQL. The image list lives
// in the products.images JSONB column.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository creates a repository on pool.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const productColumns = `id, name, slug, price::text, images, version, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, p Product) (Product, error) {
	images, err := encodeImages(p.Images)
	if err != nil {
		return Product{}, err
	}

	now := time.Now().UTC()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO products (id, name, slug, price, images, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::jsonb, 1, $6, $6)
		RETURNING `+productColumns,
		p.ID, p.Name, p.Slug, p.Price.String(), images, now)

	created, err := scanProduct(row)
	if err != nil {
		return Product{}, fmt.Errorf("inserting product: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, fmt.Errorf("getting product %s: %w", id, err)
	}
	return p, nil
}

func (r *PGRepository) Save(ctx context.Context, p Product) (Product, error) {
	images, err := encodeImages(p.Images)
	if err != nil {
		return Product{}, err
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE products
		SET name = $2, slug = $3, price = $4::numeric, images = $5::jsonb,
			version = version + 1, updated_at = $6
		WHERE id = $1 AND version = $7
		RETURNING `+productColumns,
		p.ID, p.Name, p.Slug, p.Price.String(), images, time.Now().UTC(), p.Version)

	saved, err := scanProduct(row)
	if err == nil {
		return saved, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("updating product %s: %w", p.ID, err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
		return Product{}, fmt.Errorf("checking product %s: %w", p.ID, err)
	}
	if !exists {
		return Product{}, ErrProductNotFound
	}
	return Product{}, ErrVersionConflict
}

// purgeCandidateQuery guards every cast: PostgreSQL may evaluate WHERE
// clauses in any order, and one malformed deletedAt must not fail the scan.
const purgeCandidateQuery = `
		SELECT ` + productColumns + `
		FROM products
		WHERE images @> '[{"deleted": true}]'::jsonb
		  AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(images) AS img
			WHERE jsonb_typeof(img) = 'object'
			  AND img->'deleted' = 'true'::jsonb
			  AND CASE
				WHEN jsonb_typeof(img->'deletedAt') = 'string'
				 AND img->>'deletedAt' ~ '^\d{4}-(0[1-9]|1[0-2])-(0[1-9]|[12]\d|3[01])[T ]([01]\d|2[0-3]):[0-5]\d:[0-5]\d(\.\d+)?(Z|[+-]\d{2}(:?\d{2})?)$'
				THEN (img->>'deletedAt')::timestamptz <= $1
				ELSE false
			  END
		  )
		ORDER BY updated_at, id
		LIMIT $2
`

func (r *PGRepository) ListPurgeCandidates(ctx context.Context, cutoff time.Time, limit int) (CandidateBatch, error) {
	rows, err := r.pool.Query(ctx, purgeCandidateQuery, cutoff.UTC(), limit)
	if err != nil {
		return CandidateBatch{}, fmt.Errorf("querying purge candidates: %w", err)
	}
	defer rows.Close()

	var batch CandidateBatch
	for rows.Next() {
		p, images, err := scanRow(rows)
		if err != nil {
			return CandidateBatch{}, fmt.Errorf("scanning purge candidate: %w", err)
		}
		if err := decodeImages(&p, images); err != nil {
			batch.Unreadable = append(batch.Unreadable, UnreadableProduct{ID: p.ID, Err: err})
			continue
		}
		batch.Products = append(batch.Products, p)
	}
	if err := rows.Err(); err != nil {
		return CandidateBatch{}, fmt.Errorf("iterating purge candidates: %w", err)
	}
	return batch, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	p, images, err := scanRow(row)
	if err != nil {
		return Product{}, err
	}
	if err := decodeImages(&p, images); err != nil {
		return Product{}, err
	}
	return p, nil
}

// scanRow reads the product columns, leaving the images document undecoded.
func scanRow(row pgx.Row) (Product, []byte, error) {
	var (
		p      Product
		price  string
		images []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Slug, &price, &images, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Product{}, nil, err
	}

	d, err := decimal.NewFromString(price)
	if err != nil {
		return Product{}, nil, fmt.Errorf("parsing price %q: %w", price, err)
	}
	p.Price = d
	return p, images, nil
}

func decodeImages(p *Product, images []byte) error {
	if err := json.Unmarshal(images, &p.Images); err != nil {
		return fmt.Errorf("decoding images of product %s: %w", p.ID, err)
	}
	return nil
}

func encodeImages(images []ImageAsset) (string, error) {
	if images == nil {
		images = []ImageAsset{}
	}
	b, err := json.Marshal(images)
	if err != nil {
		return "", fmt.Errorf("encoding images: %w", err)
	}
	return string(b), nil
}
