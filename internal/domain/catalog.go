package domain

import "time"

// Product — позиция каталога с живым счётчиком остатка.
type Product struct {
	ID            string
	SKU           string
	Name          string
	PriceMinor    int64
	StockQuantity int32
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Variant — вариант товара со своей ценой и своим остатком.
// Если покупатель выбрал вариант, остаток проверяется по варианту, а не по товару.
type Variant struct {
	ID            string
	ProductID     string
	SKU           string
	PriceMinor    int64
	StockQuantity int32
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CartItem — позиция корзины покупателя.
type CartItem struct {
	ID        string
	UserID    string
	ProductID string
	VariantID string
	Qty       int32
	CreatedAt time.Time
}
