package domain

// CartLine — одна позиция корзины, выбранная к оформлению.
// Цена и витринные поля снимаются с каталога в момент чекаута.
type CartLine struct {
	ProductID      string
	Variant        map[string]string
	Qty            int32
	UnitPriceMinor int64
	ProductName    string
	ProductImage   string
}

// CartSnapshot — неизменяемый снимок корзины на момент чекаута.
// Скидка, доставка и налог считаются выше по стеку (промо- и налоговые
// движки) и фиксируются здесь; последующие изменения цен в каталоге
// на размещённый заказ не влияют.
type CartSnapshot struct {
	BuyerID           string
	SellerID          string
	Currency          string
	Lines             []CartLine
	DiscountMinor     int64
	ShippingMinor     int64
	TaxMinor          int64
	PaymentMethod     string
	ShippingAddressID string
}

// SubtotalMinor возвращает сумму позиций снимка: qty * unit_price.
func (c *CartSnapshot) SubtotalMinor() int64 {
	var sum int64
	for _, line := range c.Lines {
		sum += int64(line.Qty) * line.UnitPriceMinor
	}
	return sum
}

// Validate проверяет, что из снимка можно создать заказ.
func (c *CartSnapshot) Validate() []error {
	var errs []error

	if c.BuyerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if c.SellerID == "" {
		errs = append(errs, ErrSellerRequired)
	}
	if c.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(c.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}
	if c.DiscountMinor < 0 || c.ShippingMinor < 0 || c.TaxMinor < 0 {
		errs = append(errs, ErrAdjustmentNegative)
	}
	for _, line := range c.Lines {
		if line.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if line.Qty <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if line.UnitPriceMinor < 0 {
			errs = append(errs, ErrLinePriceInvalid)
		}
	}

	return errs
}
