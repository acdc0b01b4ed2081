package parser

import (
	"github.com/maltedev/supplier-scraper/internal/models"
	"github.com/maltedev/supplier-scraper/internal/rules"
)

// Parser turns raw page content into field values using a selector mapping.
// Implementations never fail: anything that cannot be extracted is "".
type Parser interface {
	Extract(content []byte, selectors rules.Selectors) models.Record
}
