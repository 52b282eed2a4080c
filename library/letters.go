package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"text/template"
)

// LetterRequest asks for a fine letter covering the given fines.
type LetterRequest struct {
	UserID  int64
	FineIDs []int64
	Type    LetterType
}

type letterFine struct {
	BookTitle string
	Amount    Money
	Reason    string
}

type letterData struct {
	Name    string
	LoginID string
	Status  string
	Total   Money
	Fines   []letterFine
}

var letterTemplates = template.Must(template.New("letters").Parse(`
{{- define "lines"}}
{{- range .Fines}}
- {{.BookTitle}}: RM {{.Amount}} ({{.Reason}})
{{- end}}
{{- end}}

{{- define "header"}}
Kepada / To: {{.Name}}
ID: {{.LoginID}}
Status: {{.Status}}
{{end}}

{{- define "warning"}}SURAT AMARAN / WARNING LETTER
{{template "header" .}}
Dengan ini adalah dimaklumkan bahawa anda mempunyai tunggakan denda perpustakaan sebanyak RM {{.Total}}.

This is to inform you that you have outstanding library fines totaling RM {{.Total}}.

Sila jelaskan tunggakan ini dalam tempoh 7 hari dari tarikh surat ini.
Please settle this outstanding amount within 7 days from the date of this letter.

Butiran Denda / Fine Details:
{{- template "lines" .}}
{{end}}

{{- define "final_notice"}}NOTIS AKHIR / FINAL NOTICE
{{template "header" .}}
INI ADALAH NOTIS AKHIR untuk menjelaskan tunggakan denda perpustakaan sebanyak RM {{.Total}}.

THIS IS A FINAL NOTICE to settle outstanding library fines totaling RM {{.Total}}.

Kegagalan menjelaskan tunggakan dalam tempoh 3 hari akan mengakibatkan tindakan tatatertib.
Failure to settle within 3 days will result in disciplinary action.

Butiran Denda / Fine Details:
{{- template "lines" .}}
{{end}}

{{- define "replacement_demand"}}SURAT TUNTUTAN GANTI RUGI / REPLACEMENT DEMAND LETTER
{{template "header" .}}
Dengan ini adalah dituntut bayaran ganti rugi untuk buku yang hilang/rosak sebanyak RM {{.Total}}.

This is to demand payment for lost/damaged books totaling RM {{.Total}}.

Bayaran hendaklah dibuat dalam tempoh 14 hari dari tarikh surat ini.
Payment must be made within 14 days from the date of this letter.

Butiran Buku / Book Details:
{{- range .Fines}}
- {{.BookTitle}}: RM {{.Amount}} (Sebab: {{.Reason}})
{{- end}}
{{end}}
`))

// GenerateLetter renders and stores a bilingual fine letter. Each fine is
// charged at its outstanding balance, or its full amount when nothing is
// outstanding (including overpaid fines). Fines are not changed.
func (lm *LibraryManager) GenerateLetter(ctx context.Context, p Principal, req LetterRequest) (*FineLetter, error) {
	if err := lm.requireLibrarian(ctx, p); err != nil {
		return nil, err
	}
	if !req.Type.Valid() {
		return nil, invalid("unknown letter type %q", req.Type)
	}
	if len(req.FineIDs) == 0 {
		return nil, invalid("select at least one fine")
	}
	now := lm.now()
	letter := &FineLetter{
		Number:      documentNumber("LTR", now),
		UserID:      req.UserID,
		LibrarianID: p.UserID,
		Type:        req.Type,
		FineIDs:     req.FineIDs,
		IssueDate:   dateOf(now),
	}

	err := lm.db.WithTx(ctx, func(tx *sql.Tx) error {
		u, err := getUser(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		data := letterData{Name: u.FullName(), LoginID: u.LoginID, Status: "Kakitangan"}
		if u.Role == RoleStudent {
			data.Status = "Pelajar"
		}
		for _, id := range req.FineIDs {
			f, err := getFine(ctx, tx, id)
			if err != nil {
				return err
			}
			if f.UserID != req.UserID {
				return ErrFineNotFound.WithMessage("fine %d does not belong to this user", id)
			}
			amt := f.BalanceDue
			if amt <= 0 {
				amt = f.FineAmount
			}
			data.Total += amt
			data.Fines = append(data.Fines, letterFine{BookTitle: f.BookTitle, Amount: amt, Reason: f.FineReason})
		}
		letter.TotalAmount = data.Total

		var sb strings.Builder
		if err := letterTemplates.ExecuteTemplate(&sb, string(req.Type), data); err != nil {
			return storeErr(err, "render letter")
		}
		letter.Content = sb.String()

		ids, err := json.Marshal(req.FineIDs)
		if err != nil {
			return storeErr(err, "encode letter fines")
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO fine_letters(letter_number, user_id, librarian_id, letter_type, total_fine_amount, fine_ids, letter_content, issue_date)
            VALUES(?,?,?,?,?,?,?,?)`, letter.Number, letter.UserID, letter.LibrarianID, letter.Type, letter.TotalAmount,
			string(ids), letter.Content, formatDate(letter.IssueDate))
		if err != nil {
			return storeErr(err, "insert letter")
		}
		letter.ID, err = res.LastInsertId()
		return storeErr(err, "insert letter id")
	})
	if err != nil {
		return nil, err
	}
	lm.log.Info("fine letter issued", "letter", letter.Number, "type", letter.Type, "user_id", letter.UserID, "total", letter.TotalAmount.String())
	return letter, nil
}
