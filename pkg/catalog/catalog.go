// Package catalog provides the product catalog types and the HTTP client
// the session core uses to price raw carts and list products.
package catalog

// Product is one catalog entry. The shape mirrors the catalog service API;
// the session core only reads SKU, Title, Price and MobImg.
type Product struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Ingredients string  `json:"ingredients"`
	SKU         string  `json:"sku"`
	Price       float64 `json:"price"`
	Weight      string  `json:"weight,omitempty"`
	Width       string  `json:"width,omitempty"`
	Proteins    int     `json:"proteins,omitempty"`
	MobImg      string  `json:"mob_img,omitempty"`
}
