package model

import "github.com/rotisserie/eris"

// ErrMissingClassification is returned when an incoming file lacks a
// warehouse or document-type classification.
var ErrMissingClassification = eris.New("incoming file has no warehouse or document-type classification")

// IncomingFile is one classified attachment handed to the pipeline. It is
// consumed once by the orchestrator and never mutated after classification.
type IncomingFile struct {
	Filename       string `json:"filename"`
	Sender         string `json:"sender"`
	Subject        string `json:"subject"`
	Payload        []byte `json:"-"`
	Factory        int    `json:"factory"`
	Warehouse      string `json:"warehouse"`
	DocType        string `json:"doc_type"`
	InventoryCount bool   `json:"inventory_count"`
}

// NewIncomingFile builds a classified incoming file, rejecting incomplete
// classification up front so that unclassified files cannot reach the
// transactional path.
func NewIncomingFile(filename, sender, subject string, payload []byte, factory int, warehouse, docType string, inventoryCount bool) (*IncomingFile, error) {
	if warehouse == "" || docType == "" {
		return nil, ErrMissingClassification
	}
	return &IncomingFile{
		Filename:       filename,
		Sender:         sender,
		Subject:        subject,
		Payload:        payload,
		Factory:        factory,
		Warehouse:      warehouse,
		DocType:        docType,
		InventoryCount: inventoryCount,
	}, nil
}

// TripleKey returns the snapshot-scoping key of the file.
func (f *IncomingFile) TripleKey() Triple {
	return Triple{Factory: f.Factory, Warehouse: f.Warehouse, DocType: f.DocType}
}
