package parser

import (
	"reflect"
	"testing"

	"github.com/dgallion1/docaudit/internal/doctree"
)

func creditDoc() *doctree.Document {
	texts := []string{
		"CREDIT REPORT\nExperian\n\nPERSONAL INFORMATION\nName: Jane Doe",
		"ACCOUNTS\n\nACME BANK\nAccount Number: XXXX1234\nStatus: Collection",
		"ACME BANK continued\nAccount Number: XXXX1234\nRemarks: paid as agreed",
		"DISPUTES\n\nDispute filed for account XXXX1234 regarding a late payment.",
	}
	doc := &doctree.Document{Title: "report"}
	for i, tx := range texts {
		doc.Pages = append(doc.Pages, doctree.Page{Number: i + 1, Text: tx})
	}
	return doc
}

func TestDetectStructure_CreditReport(t *testing.T) {
	st := DetectStructure(creditDoc())

	if st.Family != doctree.FamilyCreditReport {
		t.Errorf("expected credit report family, got %s", st.Family)
	}
	want := []doctree.Section{
		{Type: doctree.TypePersonalInfo, Title: "PERSONAL INFORMATION", StartPage: 1, EndPage: 1},
		{Type: doctree.TypeAccount, Title: "ACCOUNTS", StartPage: 2, EndPage: 3},
		{Type: doctree.TypeDispute, Title: "DISPUTES", StartPage: 4, EndPage: 4},
	}
	if !reflect.DeepEqual(st.Sections, want) {
		t.Errorf("sections:\n got %+v\nwant %+v", st.Sections, want)
	}

	if len(st.Accounts) != 1 {
		t.Fatalf("expected the continued account to merge into one entry, got %d", len(st.Accounts))
	}
	acct := st.Accounts[0]
	if acct.Identifier != "XXXX1234" || !reflect.DeepEqual(acct.Pages, []int{2, 3}) {
		t.Errorf("unexpected account %+v", acct)
	}
	if !acct.Derogatory {
		t.Errorf("expected collection account to be derogatory")
	}

	if len(st.Disputes) != 1 || st.Disputes[0].Identifier != "XXXX1234" {
		t.Errorf("expected one dispute referencing XXXX1234, got %+v", st.Disputes)
	}
}

func TestDetectStructure_Generic(t *testing.T) {
	doc := &doctree.Document{Pages: []doctree.Page{{Number: 1, Text: "Meeting notes\n\nNothing to see here."}}}
	st := DetectStructure(doc)
	if st.Family != doctree.FamilyGeneric {
		t.Errorf("expected generic family, got %s", st.Family)
	}
	if len(st.Sections) != 0 || len(st.SubSections()) != 0 {
		t.Errorf("expected no structure, got %+v", st)
	}
}

func TestDetectStructure_ComplexPages(t *testing.T) {
	table := "Creditor  Balance  Status\nACME  $100  Open\nBETA  $200  Closed"
	doc := &doctree.Document{Pages: []doctree.Page{
		{Number: 1, Text: "intro"},
		{Number: 2, Text: table + "\n\n" + table},
	}}
	st := DetectStructure(doc)
	if !reflect.DeepEqual(st.ComplexPages, []int{2}) {
		t.Errorf("expected page 2 complex, got %v", st.ComplexPages)
	}
}

func TestDetectStructure_Nil(t *testing.T) {
	if st := DetectStructure(nil); st == nil || st.Family != doctree.FamilyGeneric {
		t.Errorf("expected empty generic structure, got %+v", st)
	}
}
