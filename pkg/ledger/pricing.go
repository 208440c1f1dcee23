package ledger

import (
	"fmt"
	"sort"
	"strings"
)

// Operation is a priced action charged against a balance.
type Operation string

// Category groups operations for display and validation.
type Category string

const (
	CategoryGeneration Category = "GENERATION"
	CategoryProcessing Category = "PROCESSING"
	CategoryStyle      Category = "STYLE"
)

const (
	OperationRasterGeneration   Operation = "raster_generation"
	OperationVectorGeneration   Operation = "vector_generation"
	OperationVectorIllustration Operation = "vector_illustration"
	OperationVectorization      Operation = "vectorization"
	OperationBackgroundRemoval  Operation = "background_removal"
	OperationClarityUpscale     Operation = "clarity_upscale"
	OperationGenerativeUpscale  Operation = "generative_upscale"
	OperationStyleCreation      Operation = "style_creation"
)

type operationSpec struct {
	cost     Tokens
	category Category
}

// Every priced operation is declared here with its category; nothing else is accepted.
var operationCatalog = map[Operation]operationSpec{
	OperationRasterGeneration:   {cost: 4, category: CategoryGeneration},
	OperationVectorGeneration:   {cost: 8, category: CategoryGeneration},
	OperationVectorIllustration: {cost: 8, category: CategoryGeneration},
	OperationVectorization:      {cost: 4, category: CategoryProcessing},
	OperationBackgroundRemoval:  {cost: 4, category: CategoryProcessing},
	OperationClarityUpscale:     {cost: 4, category: CategoryProcessing},
	OperationGenerativeUpscale:  {cost: 80, category: CategoryProcessing},
	OperationStyleCreation:      {cost: 4, category: CategoryStyle},
}

var categoryOrder = []Category{CategoryGeneration, CategoryProcessing, CategoryStyle}

// ParseOperation resolves a raw operation name against the price table.
// Names match exactly; surrounding whitespace is not stripped.
func ParseOperation(raw string) (Operation, error) {
	operation := Operation(raw)
	if _, ok := operationCatalog[operation]; !ok {
		return "", &InvalidOperationError{Operation: raw}
	}
	return operation, nil
}

// String returns the operation identifier.
func (operation Operation) String() string {
	return string(operation)
}

// Cost returns the token price of the operation.
func (operation Operation) Cost() Tokens {
	return operationCatalog[operation].cost
}

// Category returns the category the operation belongs to.
func (operation Operation) Category() Category {
	return operationCatalog[operation].category
}

// Description renders the human-readable transaction line for a spend.
func (operation Operation) Description() string {
	return fmt.Sprintf("Used %d tokens for %s", operation.Cost(), strings.ReplaceAll(operation.String(), "_", " "))
}

// Operations lists every priced operation in a stable order.
func Operations() []Operation {
	operations := make([]Operation, 0, len(operationCatalog))
	for operation := range operationCatalog {
		operations = append(operations, operation)
	}
	sort.Slice(operations, func(left, right int) bool {
		return operations[left] < operations[right]
	})
	return operations
}

// PriceTable returns operation name to cost.
func PriceTable() map[string]int64 {
	costs := make(map[string]int64, len(operationCatalog))
	for operation, spec := range operationCatalog {
		costs[operation.String()] = spec.cost.Int64()
	}
	return costs
}

// CategoryTable returns category name to the operations it contains.
func CategoryTable() map[string][]string {
	categories := make(map[string][]string, len(categoryOrder))
	for _, category := range categoryOrder {
		categories[string(category)] = []string{}
	}
	for _, operation := range Operations() {
		category := string(operation.Category())
		categories[category] = append(categories[category], operation.String())
	}
	return categories
}
