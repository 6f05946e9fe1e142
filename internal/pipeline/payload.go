package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/flowsma/record-importer/internal/config"
	"github.com/flowsma/record-importer/internal/flowsma"
	"github.com/flowsma/record-importer/internal/normalize"
	"github.com/flowsma/record-importer/internal/parser"
)

// Reference returns the row's reference text, synthesizing a unique
// one when the source cell is blank so duplicate detection and
// verification still have a key to match on.
func Reference(row parser.Row, rowIndex int) string {
	if ref := row.First("Comprobante", "comprobante", "referenciatexto"); ref != "" {
		return ref
	}
	return fmt.Sprintf("import-%d-%d", time.Now().UnixMilli(), rowIndex)
}

// BuildPayload maps one parsed row onto the workspace insert schema.
// The column names follow the accounting export layout this importer
// receives; a file with headers of its own still maps as long as it
// uses the same labels. Dates default to today (load date) or empty
// (due date), amounts default to zero, and every length-limited field
// is clamped.
func BuildPayload(row parser.Row, rowIndex int, flow config.FlowConfig) *flowsma.RecordPayload {
	loadDate := normalize.Date(row.First("Fecha Carga", "Fecha", "fecha"), normalize.DefaultToday)
	dueDate := normalize.Date(row.First("Fecha", "fechacompromiso", "Fecha Compromiso"), normalize.DefaultEmpty)

	name := strings.TrimSpace(row.Get("Nombre"))
	concept := strings.TrimSpace(row.Get("Concepto"))

	clientName := name
	if clientName == "" {
		clientName = "Sin nombre"
	}
	description := concept
	if description == "" {
		description = fmt.Sprintf("Importación fila %d", rowIndex)
	}

	p := &flowsma.RecordPayload{
		ReferenceText: Reference(row, rowIndex),
		Date:          loadDate,
		DueDate:       dueDate,
		AdminNotes:    name,
		InitialNotes:  concept,
		SalesNotes:    row.First("Motivo Det", "Motivo"),
		TotalTax:      normalize.Number(row.Get("Imp IVA1")),
		TotalPrice:    normalize.Number(row.Get("Imp Total")),
		VarCN0:        normalize.Number(row.Get("Imp Exento")),
		VarCN1:        normalize.Number(row.Get("Imp Gravado")),
		ClientName:    clientName,
		Description:   description,
		FlowID:        flow.FlowID,
		StatusID:      flow.StatusID,
		StatusFlowID:  flow.StatusFlowID,
		CurrentUser:   flow.CurrentUser,
	}
	p.Clamp()
	return p
}
