package store

import (
	"context"
	"fmt"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const productColumns = `id, sku, name, price, technique, stock, active, created_at, updated_at`

const variantColumns = `id, product_id, name, price, stock, active, sort_order, created_at, updated_at`

// GetProduct retrieves a product by ID
func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	err := s.db.GetContext(ctx, &p, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// ListProducts returns products ordered by id, optionally only active ones
func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error) {
	query := "SELECT " + productColumns + " FROM products"
	if activeOnly {
		query += " WHERE active"
	}
	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products, query+" ORDER BY id")
	return products, err
}

// GetVariant retrieves a variant of a product
func (s *Store) GetVariant(ctx context.Context, productID, variantID int64) (*models.Variant, error) {
	var v models.Variant
	err := s.db.GetContext(ctx, &v,
		"SELECT "+variantColumns+" FROM product_variants WHERE id = $1 AND product_id = $2",
		variantID, productID)
	if err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

// ListVariants returns the variants of a product in display order
func (s *Store) ListVariants(ctx context.Context, productID int64) ([]models.Variant, error) {
	variants := []models.Variant{}
	err := s.db.SelectContext(ctx, &variants,
		"SELECT "+variantColumns+" FROM product_variants WHERE product_id = $1 ORDER BY sort_order, id",
		productID)
	return variants, err
}

// RealStock returns the authoritative stock of a line: the variant's when one
// is given, the product's otherwise.
func (s *Store) RealStock(ctx context.Context, productID int64, variantID *int64) (int, error) {
	var stock int
	var err error
	if variantID != nil {
		err = s.db.GetContext(ctx, &stock,
			"SELECT stock FROM product_variants WHERE id = $1 AND product_id = $2", *variantID, productID)
	} else {
		err = s.db.GetContext(ctx, &stock, "SELECT stock FROM products WHERE id = $1", productID)
	}
	if err != nil {
		return 0, notFound(err)
	}
	return stock, nil
}

// CreateProduct inserts a product, returning ErrDuplicateSKU if the SKU is taken
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	return createProduct(ctx, s.db, p)
}

func createProduct(ctx context.Context, q sqlx.QueryerContext, p *models.Product) error {
	query := `
		INSERT INTO products (sku, name, price, technique, stock, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := sqlx.GetContext(ctx, q, p, query, p.SKU, p.Name, p.Price, p.Technique, p.Stock, p.Active)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateSKU, p.SKU)
	}
	return err
}

// BatchResult reports the outcome of one item of a batch create
type BatchResult struct {
	Index   int             `json:"index"`
	SKU     string          `json:"sku"`
	Product *models.Product `json:"product,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// CreateProducts inserts products one by one. A failing item (duplicate SKU,
// constraint violation) is reported in its result and does not abort the rest.
func (s *Store) CreateProducts(ctx context.Context, products []models.Product) []BatchResult {
	results := make([]BatchResult, 0, len(products))
	for i := range products {
		p := products[i]
		res := BatchResult{Index: i, SKU: p.SKU}
		if err := createProduct(ctx, s.db, &p); err != nil {
			res.Error = err.Error()
		} else {
			res.Product = &p
		}
		results = append(results, res)
	}
	return results
}

// UpdateProduct overwrites the editable fields of a product
func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	query := `
		UPDATE products
		SET sku = $1, name = $2, price = $3, technique = $4, stock = $5, active = $6, updated_at = NOW()
		WHERE id = $7
		RETURNING created_at, updated_at`

	err := s.db.GetContext(ctx, p, query, p.SKU, p.Name, p.Price, p.Technique, p.Stock, p.Active, p.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateSKU, p.SKU)
	}
	return notFound(err)
}

// SetProductsActive toggles the active flag of the given products
func (s *Store) SetProductsActive(ctx context.Context, ids []int64, active bool) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET active = $1, updated_at = NOW() WHERE id = ANY($2)",
		active, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteProducts deletes products; variants and holds cascade
func (s *Store) DeleteProducts(ctx context.Context, ids []int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateVariant inserts a variant for an existing product
func (s *Store) CreateVariant(ctx context.Context, v *models.Variant) error {
	query := `
		INSERT INTO product_variants (product_id, name, price, stock, active, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := s.db.GetContext(ctx, v, query, v.ProductID, v.Name, v.Price, v.Stock, v.Active, v.SortOrder)
	if err != nil {
		if pqCode(err) == "23503" {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// UpdateVariant overwrites the editable fields of a variant
func (s *Store) UpdateVariant(ctx context.Context, v *models.Variant) error {
	query := `
		UPDATE product_variants
		SET name = $1, price = $2, stock = $3, active = $4, sort_order = $5, updated_at = NOW()
		WHERE id = $6 AND product_id = $7
		RETURNING created_at, updated_at`

	err := s.db.GetContext(ctx, v, query, v.Name, v.Price, v.Stock, v.Active, v.SortOrder, v.ID, v.ProductID)
	return notFound(err)
}

// DeleteVariant removes a variant of a product
func (s *Store) DeleteVariant(ctx context.Context, productID, variantID int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM product_variants WHERE id = $1 AND product_id = $2", variantID, productID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
