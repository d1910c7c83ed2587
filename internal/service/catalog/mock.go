package catalog

import (
	"context"
	"sync"

	"github.com/marketbay/fulfillment/internal/domain"
)

// MockCatalog — каталог в памяти для тестов и локального запуска.
// Цена берётся из каталога только в момент снимка корзины, поэтому
// реализации достаточно map с фиксированными товарами.
type MockCatalog struct {
	mu       sync.RWMutex
	products map[string]domain.CatalogProduct

	ProductCalls int
}

// NewMockCatalog возвращает пустой каталог.
func NewMockCatalog() *MockCatalog {
	return &MockCatalog{products: make(map[string]domain.CatalogProduct)}
}

// Add регистрирует товар в каталоге.
func (m *MockCatalog) Add(product domain.CatalogProduct) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[product.ProductID] = product
}

// Product возвращает витринные данные товара или ErrProductIDRequired /
// ErrStockNotFound для отсутствующих записей.
func (m *MockCatalog) Product(ctx context.Context, productID string) (domain.CatalogProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProductCalls++

	if productID == "" {
		return domain.CatalogProduct{}, domain.ErrProductIDRequired
	}
	product, ok := m.products[productID]
	if !ok {
		return domain.CatalogProduct{}, domain.ErrStockNotFound
	}
	return product, nil
}

var _ domain.Catalog = (*MockCatalog)(nil)
