// Package types contains read models shared by the export, API and view layers.
package types

import (
	"strconv"
	"time"

	"github.com/zydorg/kemunify/internal/domain/model"
)

// Fixed leading header cells of a recap.
const (
	HeaderNo        = "No"
	HeaderWasteName = "Nama Sampah"
)

// RecapRow is one waste type across every customer.
type RecapRow struct {
	No        int      `json:"no"`
	WasteName string   `json:"waste_name"`
	Weights   []string `json:"weights"`
	Total     string   `json:"total"`
}

// Recap is the waste type x customer table ("rekap").
type Recap struct {
	Header    []string   `json:"header"`
	Customers []string   `json:"customers"`
	Rows      []RecapRow `json:"rows"`
}

// BuildRecap projects the ledger into a table: one row per waste type in the
// given order and one column per customer in the given order. A customer with
// no entry shows "0.00".
func BuildRecap(wastes []model.WasteType, customers []model.Customer) Recap {
	names := make([]string, len(customers))
	for i, c := range customers {
		names[i] = c.Name
	}

	header := make([]string, 0, len(names)+2)
	header = append(header, HeaderNo, HeaderWasteName)
	header = append(header, names...)

	rows := make([]RecapRow, len(wastes))
	for i, w := range wastes {
		cells := make([]string, len(names))
		var total model.Weight
		for j, n := range names {
			v := w.WeightOf(n)
			cells[j] = v.String()
			total = total.Add(v)
		}
		rows[i] = RecapRow{No: i + 1, WasteName: w.Name, Weights: cells, Total: total.String()}
	}
	return Recap{Header: header, Customers: names, Rows: rows}
}

// Cells returns the row as it appears in the spreadsheet, after the header.
func (r RecapRow) Cells() []string {
	out := make([]string, 0, len(r.Weights)+2)
	out = append(out, strconv.Itoa(r.No), r.WasteName)
	return append(out, r.Weights...)
}

// Stats summarises the ledger for the /stats endpoint.
type Stats struct {
	WasteTypes     int    `json:"waste_types"`
	Customers      int    `json:"customers"`
	TotalWeight    string `json:"total_weight"`
	PendingUploads int    `json:"pending_uploads"`
	Exports        int    `json:"exports"`
	FramesDropped  int64  `json:"frames_dropped"`
	SignedIn       bool   `json:"signed_in"`
}

// Token is an API token handed out at sign-in.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
