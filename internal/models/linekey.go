package models

import (
	"fmt"
	"strconv"
	"strings"
)

// LineKey identifies a cart line: a product and, optionally, one of its variants.
type LineKey struct {
	ProductID  int64
	VariantID  int64
	HasVariant bool
}

// NewLineKey builds a key from a product id and an optional variant id.
func NewLineKey(productID int64, variantID *int64) LineKey {
	if variantID == nil {
		return LineKey{ProductID: productID}
	}
	return LineKey{ProductID: productID, VariantID: *variantID, HasVariant: true}
}

// Variant returns the variant id, or nil when the line has none.
func (k LineKey) Variant() *int64 {
	if !k.HasVariant {
		return nil
	}
	id := k.VariantID
	return &id
}

// WithoutVariant folds the line back to the bare product.
func (k LineKey) WithoutVariant() LineKey {
	return LineKey{ProductID: k.ProductID}
}

// String encodes the key as "product" or "product:variant".
func (k LineKey) String() string {
	if !k.HasVariant {
		return strconv.FormatInt(k.ProductID, 10)
	}
	return fmt.Sprintf("%d:%d", k.ProductID, k.VariantID)
}

// ParseLineKey decodes a key produced by String.
func ParseLineKey(s string) (LineKey, error) {
	prod, variant, found := strings.Cut(s, ":")
	pid, err := strconv.ParseInt(prod, 10, 64)
	if err != nil || pid <= 0 {
		return LineKey{}, fmt.Errorf("invalid line key %q", s)
	}
	if !found {
		return LineKey{ProductID: pid}, nil
	}
	vid, err := strconv.ParseInt(variant, 10, 64)
	if err != nil || vid <= 0 {
		return LineKey{}, fmt.Errorf("invalid line key %q", s)
	}
	return LineKey{ProductID: pid, VariantID: vid, HasVariant: true}, nil
}
