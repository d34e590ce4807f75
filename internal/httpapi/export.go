// Ledger export for audit review. CSV by default, JSON on request.
package httpapi

import (
	"encoding/csv"
	"net/http"
	"strconv"
)

func (s *Server) exportLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.AllLedgerEntries(r.Context())
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if r.URL.Query().Get("format") == "json" {
		out := make([]ledgerEntryResponse, 0, len(entries))
		for _, e := range entries {
			out = append(out, toEntryResponse(e))
		}
		toJSON(w, http.StatusOK, out)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="ledger.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "bank_line_id", "record_id", "record_kind", "match_type", "confidence", "amount_minor", "currency", "created_at", "created_by"})
	for _, e := range entries {
		rec := toEntryResponse(e)
		_ = cw.Write([]string{
			rec.ID.String(),
			rec.BankLineID.String(),
			rec.RecordID.String(),
			string(rec.RecordKind),
			string(rec.MatchType),
			string(rec.Confidence),
			strconv.FormatInt(rec.AmountMinor, 10),
			e.Amount.Curr().Code(),
			rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			rec.CreatedBy,
		})
	}
	cw.Flush()
}
