package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// CurrencyConverter converts amounts between currencies. It never fails:
// when no rate is available the amount is returned unchanged.
type CurrencyConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) decimal.Decimal
}

// ReceiptExtractor reads structured data from a receipt image or PDF. It is
// best effort: unreadable receipts yield empty data. A returned error means
// the extractor itself is unusable and callers treat it the same way.
type ReceiptExtractor interface {
	Extract(ctx context.Context, content []byte, mimeType string) (*entity.ReceiptData, error)
}
