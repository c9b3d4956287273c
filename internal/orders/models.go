package orders

import "time"

// Money amounts are integer minor units of the store currency.

type User struct {
	ID        int64
	UUID      string
	IsDeleted bool
}

type Address struct {
	ID        int64
	UserID    int64
	IsDefault bool
	IsDeleted bool
}

type Product struct {
	ID        int64     `json:"-"`
	UUID      string    `json:"uuid"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	Stock     int       `json:"stock"`
	Sold      int       `json:"sold"`
	IsDeleted bool      `json:"is_deleted"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Order struct {
	ID          int64       `json:"-"`
	UUID        string      `json:"uuid"`
	UserID      int64       `json:"user_id"`
	AddressID   int64       `json:"address_id"`
	TotalAmount int64       `json:"total_amount"`
	Status      Status      `json:"status"`
	IsDeleted   bool        `json:"is_deleted"`
	Items       []OrderItem `json:"items"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type OrderItem struct {
	ID          int64  `json:"-"`
	OrderID     int64  `json:"-"`
	ProductID   int64  `json:"product_id"`
	ProductUUID string `json:"product_uuid"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
}

// Sum recomputes Σ quantity*unit_price over the frozen line items.
func (o *Order) Sum() int64 {
	var total int64
	for _, it := range o.Items {
		total += int64(it.Quantity) * it.UnitPrice
	}
	return total
}

type Payment struct {
	ID            int64         `json:"-"`
	UUID          string        `json:"uuid"`
	UserID        int64         `json:"user_id"`
	Amount        int64         `json:"amount"`
	Provider      string        `json:"provider"`
	TransactionID string        `json:"transaction_id"`
	CaptureID     string        `json:"capture_id,omitempty"`
	Status        PaymentStatus `json:"status"`
	OrderID       *int64        `json:"order_id"`
	Items         []PaymentItem `json:"items"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// PaymentItem is the cart snapshot stored on a payment; it is the source of
// truth for the order materialized at capture time.
type PaymentItem struct {
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	URL         string `json:"url,omitempty"`
	Category    string `json:"category,omitempty"`
	SKU         string `json:"sku,omitempty"`
}

type ItemInput struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"quantity"`
}

// StatusSnapshot is the cached read model of an order's status.
type StatusSnapshot struct {
	OrderID   string    `json:"order_id"`
	UserUUID  string    `json:"user_uuid,omitempty"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}
