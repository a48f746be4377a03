package util

import "testing"

func TestParseQueryString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"shorthand equality", "state|pending", 1, false},
		{"explicit operator", "state|eq|pending", 1, false},
		{"multiple filters", "state|eq|pending,kind|eq|logical", 2, false},
		{"isnull shorthand", "ended_at|isnull", 1, false},
		{"invalid operator", "state|resembles|pending", 0, true},
		{"too many parts", "a|b|c|d", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseQueryString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseQueryString(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("ParseQueryString(%q) = %d filters, want %d", tt.input, len(got), tt.want)
			}
		})
	}
}

func TestParseQueryStringInList(t *testing.T) {
	filters, err := ParseQueryString("kind|in|logical,physical")
	if err != nil {
		t.Fatalf("ParseQueryString() error = %v", err)
	}
	if len(filters) != 1 {
		t.Fatalf("got %d filters, want 1", len(filters))
	}
	values, ok := filters[0].Value.([]string)
	if !ok {
		t.Fatalf("in value type = %T, want []string", filters[0].Value)
	}
	if len(values) != 2 || values[0] != "logical" || values[1] != "physical" {
		t.Errorf("in values = %v", values)
	}
}

func TestParseOrderString(t *testing.T) {
	orders, err := ParseOrderString("created_at|desc,id|asc")
	if err != nil {
		t.Fatalf("ParseOrderString() error = %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("got %d clauses, want 2", len(orders))
	}
	if orders[0].Field != "created_at" || orders[0].Direction != OrderDesc {
		t.Errorf("first clause = %+v", orders[0])
	}

	if _, err := ParseOrderString("id|upward"); err == nil {
		t.Error("invalid direction must error")
	}
}

func TestValidateFilterFields(t *testing.T) {
	filters, err := ParseQueryString("state|eq|pending")
	if err != nil {
		t.Fatalf("ParseQueryString() error = %v", err)
	}

	if err := ValidateFilterFields(filters, []string{"state", "kind"}); err != nil {
		t.Errorf("allowed field rejected: %v", err)
	}
	if err := ValidateFilterFields(filters, []string{"kind"}); err == nil {
		t.Error("disallowed field accepted")
	}
}
