package syncmark

import (
	"strings"

	"offertory/internal/core"
)

// Row is one record as the spreadsheet receives it. Field names are part of
// the spreadsheet's contract and must not change.
type Row struct {
	Date        string  `json:"Date"`
	Code        string  `json:"Code"`
	Description string  `json:"Description"`
	NameID      string  `json:"NameID"`
	Name        string  `json:"Name"`
	Amount      float64 `json:"Amount"`
	Remarks     string  `json:"Remarks"`
}

func RowFromRecord(r core.OfferingRecord) Row {
	name := strings.TrimSpace(r.DonorName)
	if name == "" {
		name = core.AnonymousName
	}
	return Row{
		Date:        r.Date.String(),
		Code:        r.Code,
		Description: r.CodeLabel,
		NameID:      r.OfferingNumber,
		Name:        name,
		Amount:      r.Amount.Units(),
		Remarks:     r.Note,
	}
}

// Values renders the row in spreadsheet column order.
func (r Row) Values() []any {
	return []any{r.Date, r.Code, r.Description, r.NameID, r.Name, r.Amount, r.Remarks}
}
