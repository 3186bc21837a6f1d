package irbis

import (
	"testing"
)

func TestParseSubfields(t *testing.T) {
	subs := ParseSubfields("^Avalue1^Bvalue2^C")
	if len(subs) != 3 {
		t.Fatalf("subfields = %+v", subs)
	}
	if subs[0].Code != 'A' || subs[0].Value != "value1" {
		t.Errorf("first = %+v", subs[0])
	}
	if subs[2].Code != 'C' || subs[2].Value != "" {
		t.Errorf("empty subfield = %+v", subs[2])
	}

	// Lower-case codes are upper-cased.
	subs = ParseSubfields("^a0^hBOOK001")
	if subs[0].Code != 'A' || subs[1].Code != 'H' {
		t.Errorf("case folding failed: %+v", subs)
	}
}

func TestSubfieldRoundTrip(t *testing.T) {
	value := "^a0^b00001^c20200101^dLending^hBOOK001"
	subs := ParseSubfields(value)
	if got := FormatSubfields(subs); got != "^A0^B00001^C20200101^DLending^HBOOK001" {
		t.Errorf("round trip = %q", got)
	}
}

func TestSetSubfieldValue(t *testing.T) {
	value := "^A0^B00001^HBOOK001"
	got := SetSubfieldValue(value, 'a', "1")
	if got != "^A1^B00001^HBOOK001" {
		t.Errorf("replace = %q", got)
	}
	got = SetSubfieldValue(value, 'z', "guid")
	if got != "^A0^B00001^HBOOK001^Zguid" {
		t.Errorf("append = %q", got)
	}
}

func TestParseRecordLines(t *testing.T) {
	rec := ParseRecordLines([]string{
		"0#42",
		"200#^AWar and Peace",
		"910#^a0^b00001^hBOOK001",
		"910#^a1^b00002^hBOOK999",
		"garbage line",
		"",
	})
	if rec.MFN != 42 {
		t.Errorf("MFN = %d, want 42", rec.MFN)
	}
	if len(rec.FieldValues(FieldExemplars)) != 2 {
		t.Errorf("910 values = %v", rec.FieldValues(FieldExemplars))
	}
	if rec.FieldValue(FieldTitle) != "^AWar and Peace" {
		t.Errorf("title = %q", rec.FieldValue(FieldTitle))
	}
}

func TestFormatRecordLines(t *testing.T) {
	rec := NewRecord()
	rec.MFN = 7
	rec.AddField(FieldExemplars, "^A0^HBOOK001")
	rec.AddField(FieldTitle, "^ATitle")

	lines := rec.FormatRecordLines()
	if lines[0] != "0#7" {
		t.Errorf("first line = %q", lines[0])
	}
	// Tags are rendered in ascending order.
	if lines[1] != "200#^ATitle" || lines[2] != "910#^A0^HBOOK001" {
		t.Errorf("lines = %v", lines)
	}

	// Round trip.
	again := ParseRecordLines(lines)
	if again.MFN != 7 || again.FieldValue(FieldTitle) != "^ATitle" {
		t.Errorf("round trip = %+v", again)
	}
}

func TestFindExemplar(t *testing.T) {
	rec := NewRecord()
	rec.AddField(FieldExemplars, "^a0^b00001^c20200101^dLending^hBOOK001")
	rec.AddField(FieldExemplars, "^a1^b00002^c20200101^dLending^hAB:CD:EF:12")

	ex := FindExemplar(rec, "BOOK001")
	if ex == nil || ex.Status != "0" || ex.Inventory != "00001" || ex.Index != 0 {
		t.Fatalf("exemplar = %+v", ex)
	}

	// Separator spelling in the record still matches the normalized query.
	ex = FindExemplar(rec, "ABCDEF12")
	if ex == nil || ex.Index != 1 || ex.Status != "1" {
		t.Fatalf("variant exemplar = %+v", ex)
	}

	if FindExemplar(rec, "MISSING0") != nil {
		t.Error("found a phantom exemplar")
	}
}

func TestLoanRoundTrip(t *testing.T) {
	loan := Loan{
		Shelfmark:  "R2",
		Inventory:  "00001",
		Title:      "War and Peace",
		IssueDate:  "20260805",
		DueDate:    "20260904",
		ReturnDate: OpenLoanPlaceholder,
		Database:   "IBIS",
		RFID:       "BOOK001",
		Operator:   "MASTER",
		GUID:       "abc123",
		IssueTime:  "101530",
	}
	got := ParseLoan(loan.Format())
	if got.RFID != "BOOK001" || got.ReturnDate != OpenLoanPlaceholder || got.GUID != "abc123" {
		t.Errorf("round trip = %+v", got)
	}
}

func TestActiveLoansAndFindOpenLoan(t *testing.T) {
	rec := NewRecord()
	open := Loan{RFID: "BOOK001", ReturnDate: OpenLoanPlaceholder, Title: "Open"}
	closed := Loan{RFID: "BOOK002", ReturnDate: "20260101", Title: "Closed"}
	rec.AddField(FieldLoans, closed.Format())
	rec.AddField(FieldLoans, open.Format())

	loans := ActiveLoans(rec)
	if len(loans) != 1 || loans[0].Title != "Open" {
		t.Errorf("active loans = %+v", loans)
	}

	if idx := FindOpenLoanIndex(rec, "BOOK001"); idx != 1 {
		t.Errorf("open loan index = %d, want 1", idx)
	}
	// A closed loan never matches, even with the right RFID.
	if idx := FindOpenLoanIndex(rec, "BOOK002"); idx != -1 {
		t.Errorf("closed loan matched at %d", idx)
	}
}

func TestReaderNameAndBookBrief(t *testing.T) {
	reader := NewRecord()
	reader.AddField(FieldReaderName, "^AIvanov^BIvan^GIvanovich")
	if got := ReaderName(reader); got != "Ivanov Ivan Ivanovich" {
		t.Errorf("ReaderName = %q", got)
	}

	book := NewRecord()
	book.AddField(FieldTitle, "^AWar and Peace")
	book.AddField(FieldAuthor, "^ATolstoy^BL.N.")
	if got := BookBrief(book); got != "Tolstoy L.N.. War and Peace" {
		t.Errorf("BookBrief = %q", got)
	}
}
