package validation

import "testing"

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "trailing space", in: "Alice ", want: "alice"},
		{name: "upper case", in: "ALICE", want: "alice"},
		{name: "tabs and newlines", in: "\tBob\n", want: "bob"},
		{name: "already normalized", in: "carol", want: "carol"},
		{name: "blank", in: "   ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeUsername(tt.in)
			if got != tt.want {
				t.Fatalf("NormalizeUsername(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := NormalizeUsername(got); again != got {
				t.Fatalf("NormalizeUsername is not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestNormalizeSiteID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "leading space", in: " S1", want: "S1"},
		{name: "case preserved", in: " Site-A ", want: "Site-A"},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeSiteID(tt.in)
			if got != tt.want {
				t.Fatalf("NormalizeSiteID(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := NormalizeSiteID(got); again != got {
				t.Fatalf("NormalizeSiteID is not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestIsValidVoucherCode(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{code: "LG1-123456", valid: true},
		{code: "LG12-000001", valid: true},
		{code: "LG-654321", valid: true},
		{code: "lg1-123456", valid: false},
		{code: "LG1-12345", valid: false},
		{code: "LG1123456", valid: false},
		{code: "", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := IsValidVoucherCode(tt.code); got != tt.valid {
				t.Fatalf("IsValidVoucherCode(%q) = %v, want %v", tt.code, got, tt.valid)
			}
		})
	}
}

func TestIsValidVoucherPrefix(t *testing.T) {
	tests := []struct {
		prefix string
		valid  bool
	}{
		{prefix: "LG1", valid: true},
		{prefix: "LG12", valid: true},
		{prefix: "LG", valid: true},
		{prefix: "lg3", valid: false},
		{prefix: "LG3-", valid: false},
		{prefix: "LG3-000001", valid: false},
		{prefix: "3LG", valid: false},
		{prefix: "", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			if got := IsValidVoucherPrefix(tt.prefix); got != tt.valid {
				t.Fatalf("IsValidVoucherPrefix(%q) = %v, want %v", tt.prefix, got, tt.valid)
			}
		})
	}
}
