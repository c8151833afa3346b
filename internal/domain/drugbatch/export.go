package drugbatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rxlearn/rxlearn/internal/platform/reporting"
)

var exportHeaders = []string{"Request ID", "Drug name", "Requested by", "Status", "Created drug ID", "Requested at"}

// ExportTable lays out the members of a batch, one row per request.
func ExportTable(b *Batch) reporting.Table {
	rows := make([][]interface{}, 0, len(b.Requests))
	for _, r := range b.Requests {
		drugID := ""
		if r.CreatedDrugID != nil {
			drugID = r.CreatedDrugID.String()
		}
		rows = append(rows, []interface{}{
			r.ID.String(), r.DrugName, r.RequestedBy, string(r.Status), drugID, r.CreatedAt,
		})
	}
	return reporting.Table{
		Sheet:   "Batch " + b.ID.String()[:8],
		Headers: exportHeaders,
		Widths:  []float64{38, 30, 24, 12, 38, 22},
		Rows:    rows,
	}
}

// Export renders the batch members as an XLSX workbook.
func (s *Service) Export(ctx context.Context, id uuid.UUID) ([]byte, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := reporting.WriteXLSX(ExportTable(b))
	if err != nil {
		return nil, fmt.Errorf("export batch %s: %w", id, err)
	}
	return data, nil
}
