// Package source delivers classified incoming files to the ingestion
// pipeline. Mail transport proper stays outside this service; what arrives
// here is a drop folder (local or FTP) that the mail gateway writes
// attachments into.
package source

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/stockledger/internal/model"
)

// File is one raw payload picked up from a source.
type File struct {
	Name    string
	Sender  string
	Subject string
	Data    []byte
}

// Classifier decides warehouse, document type and the inventory-count flag
// for a raw file. It is the port for the external validator; the rule
// classifier below is the built-in implementation.
type Classifier interface {
	Classify(f File) (*model.IncomingFile, error)
}

// Rule maps a filename pattern to a classification.
type Rule struct {
	Match     string `yaml:"match" mapstructure:"match"` // case-insensitive substring of the filename
	Factory   int    `yaml:"factory" mapstructure:"factory"`
	Warehouse string `yaml:"warehouse" mapstructure:"warehouse"`
	DocType   string `yaml:"doc_type" mapstructure:"doc_type"`
}

// RuleClassifier classifies files by filename substring rules and flags
// inventory-count documents by subject keywords.
type RuleClassifier struct {
	Rules            []Rule
	InventoryCountKw []string
}

// NewRuleClassifier builds a classifier. With no keywords configured the
// common Russian and English markers are used.
func NewRuleClassifier(rules []Rule, inventoryCountKw []string) *RuleClassifier {
	if len(inventoryCountKw) == 0 {
		inventoryCountKw = []string{"инвентаризация", "inventory count"}
	}
	return &RuleClassifier{Rules: rules, InventoryCountKw: inventoryCountKw}
}

// Classify resolves the first matching rule. Files matching no rule are an
// input error: they are reported and skipped, never ingested.
func (c *RuleClassifier) Classify(f File) (*model.IncomingFile, error) {
	name := strings.ToLower(f.Name)
	for _, r := range c.Rules {
		if r.Match != "" && strings.Contains(name, strings.ToLower(r.Match)) {
			return model.NewIncomingFile(
				f.Name, f.Sender, f.Subject, f.Data,
				r.Factory, r.Warehouse, r.DocType,
				c.isInventoryCount(f.Subject),
			)
		}
	}
	return nil, eris.Errorf("source: no classification rule matches %q", f.Name)
}

func (c *RuleClassifier) isInventoryCount(subject string) bool {
	s := strings.ToLower(subject)
	for _, kw := range c.InventoryCountKw {
		if strings.Contains(s, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
