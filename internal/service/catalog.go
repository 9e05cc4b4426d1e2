package service

import (
	"context"
	"errors"

	"storefront/internal/apperr"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// CatalogService holds the admin-only catalog writes this service owns
type CatalogService struct {
	store  Store
	logger *zap.Logger
}

func NewCatalogService(store Store) *CatalogService {
	return &CatalogService{store: store, logger: util.GetLogger()}
}

// Restock adds units to a product and returns the new stock level
func (s *CatalogService) Restock(ctx context.Context, productID string, quantity int, actor string) (int, error) {
	if quantity <= 0 {
		return 0, apperr.Validation("invalid request", map[string]string{"quantity": "must be at least 1"})
	}

	stock, err := s.store.RestockProduct(ctx, productID, quantity)
	if errors.Is(err, store.ErrNotFound) {
		return 0, apperr.NotFound("product")
	}
	if err != nil {
		s.logger.Error("Failed to restock product", zap.String("product_id", productID), zap.Error(err))
		return 0, apperr.Infrastructure("restock product", err)
	}

	util.StockRestockedUnitsTotal.WithLabelValues("admin").Add(float64(quantity))
	s.logger.Info("Product restocked",
		zap.String("product_id", productID),
		zap.Int("quantity", quantity),
		zap.Int("stock", stock),
		zap.String("actor", actor))
	return stock, nil
}

func (s *CatalogService) DeleteCategory(ctx context.Context, categoryID, actor string) error {
	err := s.store.DeleteCategory(ctx, categoryID)
	switch {
	case errors.Is(err, store.ErrCategoryInUse):
		return apperr.Conflict(apperr.CodeCategoryInUse, "category still has products")
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("category")
	case err != nil:
		s.logger.Error("Failed to delete category", zap.String("category_id", categoryID), zap.Error(err))
		return apperr.Infrastructure("delete category", err)
	}

	s.logger.Info("Category deleted", zap.String("category_id", categoryID), zap.String("actor", actor))
	return nil
}
