package tools

// Call is a parsed, typed tool invocation. The concrete type is one of
// AddItem, RemoveItem, GetItemDetails or GetInventorySummary.
type Call interface {
	ToolName() string
	isCall()
}

// AddItem adds stock; an existing item's price is overwritten.
type AddItem struct {
	Name         string  `json:"name"`
	Quantity     float64 `json:"quantity"`
	PricePerItem float64 `json:"price_per_item"`
}

// RemoveItem removes stock.
type RemoveItem struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
}

// GetItemDetails looks up one item.
type GetItemDetails struct {
	Name string `json:"name"`
}

// GetInventorySummary lists all items.
type GetInventorySummary struct{}

func (AddItem) ToolName() string             { return AddItemName }
func (RemoveItem) ToolName() string          { return RemoveItemName }
func (GetItemDetails) ToolName() string      { return GetItemDetailsName }
func (GetInventorySummary) ToolName() string { return GetInventorySummaryName }

func (AddItem) isCall()             {}
func (RemoveItem) isCall()          {}
func (GetItemDetails) isCall()      {}
func (GetInventorySummary) isCall() {}
