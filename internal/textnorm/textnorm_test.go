package textnorm

import (
	"reflect"
	"testing"
)

func TestWords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Account Number: XXXX1234", []string{"account", "number", "xxxx1234"}},
		{"Charge-Off", []string{"charge", "off"}},
		{"  ***  ", []string{}},
		{"ＡＣＭＥ Bank", []string{"acme", "bank"}},
		{"STRASSE straße", []string{"strasse", "strasse"}},
		{"$1,250.00", []string{"1", "250", "00"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Words(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Words(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIndexAndAll(t *testing.T) {
	hay := Words("late late payment late payment")
	if got := Index(hay, Words("late payment")); got != 1 {
		t.Errorf("expected first match at 1, got %d", got)
	}
	if got := All(hay, Words("late payment")); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Errorf("expected matches [1 3], got %v", got)
	}
	if got := Index(hay, Words("on time")); got != -1 {
		t.Errorf("expected no match, got %d", got)
	}
	if got := Index(hay, nil); got != -1 {
		t.Errorf("expected no match for empty needle, got %d", got)
	}
	if got := All(hay, nil); len(got) != 0 {
		t.Errorf("expected no matches for empty needle, got %v", got)
	}
}

func TestContains(t *testing.T) {
	if !Contains("Status: CHARGED-OFF as of 2021", "charged off") {
		t.Error("expected normalized match")
	}
	if Contains("Status: CHARGED-OFF", "charged of") {
		t.Error("partial words should not match")
	}
}
