package tracker

import "testing"

func TestParseRepository(t *testing.T) {
	tests := []struct {
		in      string
		want    Repository
		wantErr bool
	}{
		{in: "", want: Repository{}},
		{in: "  ", want: Repository{}},
		{in: "acme/app", want: Repository{Owner: "acme", Name: "app"}},
		{in: " acme/app ", want: Repository{Owner: "acme", Name: "app"}},
		{in: "acme", wantErr: true},
		{in: "acme/", wantErr: true},
		{in: "/app", wantErr: true},
		{in: "acme/app/extra", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRepository(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRepository(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRepository(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRepository_String(t *testing.T) {
	if got := (Repository{}).String(); got != "" {
		t.Errorf("zero String() = %q", got)
	}
	if got := (Repository{Owner: "acme", Name: "app"}).String(); got != "acme/app" {
		t.Errorf("String() = %q", got)
	}
}
