package utils_test

import (
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/stockroom_backend/utils"
	"github.com/shopspring/decimal"
)

func TestLikePattern(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme", "%acme%"},
		{"  tea ", "%tea%"},
		{"100%", "%100!%%"},
		{"a_b", "%a!_b%"},
		{"wow!", "%wow!!%"},
		{"", "%%"},
	}
	for _, tt := range tests {
		if got := utils.LikePattern(tt.in); got != tt.want {
			t.Errorf("LikePattern(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"3.99", "3.99", false},
		{" $1,200.50 ", "1200.5", false},
		{"-4", "-4", false},
		{"", "0", true},
		{"abc", "0", true},
	}
	for _, tt := range tests {
		got, err := utils.ParseDecimal(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseDecimal(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Fatalf("ParseDecimal(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2026, time.March, 7, 0, 0, 0, 0, time.Local)
	for _, in := range []string{"03/07/2026", "3/7/2026", "2026-03-07", " 2026-03-07 "} {
		got, err := utils.ParseDate(in)
		if err != nil {
			t.Fatalf("ParseDate(%q): %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseDate(%q) = %v, want %v", in, got, want)
		}
	}
	for _, in := range []string{"", "07.03.2026", "13/45/2026"} {
		if _, err := utils.ParseDate(in); err == nil {
			t.Fatalf("ParseDate(%q) should fail", in)
		}
	}
}

func TestNormalizeWebsite(t *testing.T) {
	tests := map[string]string{
		"":                     "",
		"example.com":          "http://example.com",
		" https://example.com": "https://example.com",
		"HTTP://EXAMPLE.COM":   "HTTP://EXAMPLE.COM",
	}
	for in, want := range tests {
		if got := utils.NormalizeWebsite(in); got != want {
			t.Errorf("NormalizeWebsite(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidatePhoneNumber(t *testing.T) {
	if err := utils.ValidatePhoneNumber("2015550123", "US"); err != nil {
		t.Fatalf("expected valid US number: %v", err)
	}
	if got := utils.FormatPhoneNumber("2015550123", "US"); got != "+12015550123" {
		t.Fatalf("FormatPhoneNumber = %q", got)
	}
	if err := utils.ValidatePhoneNumber("12", "US"); err == nil {
		t.Fatalf("expected short number to fail")
	}
	if got := utils.FormatPhoneNumber("not a phone", "US"); got != "not a phone" {
		t.Fatalf("unparseable numbers should pass through, got %q", got)
	}
}

func TestErrorKinds(t *testing.T) {
	verr := utils.NewValidationError()
	if verr.OrNil() != nil {
		t.Fatalf("empty ValidationError should be nil")
	}
	verr.Add("name", "is required")
	verr.Add("name", "ignored second message")
	verr.Add("city", "is required")
	if verr.Fields["name"] != "is required" {
		t.Fatalf("first message should win, got %q", verr.Fields["name"])
	}
	if verr.Error() != "validation failed: city: is required; name: is required" {
		t.Fatalf("unexpected message %q", verr.Error())
	}

	tests := []struct {
		err    error
		target error
	}{
		{verr, utils.ErrValidation},
		{utils.ValidationFailed("x", "y"), utils.ErrValidation},
		{&utils.InvalidStateError{Resource: "purchase order", State: "CLOSED", Action: "delete"}, utils.ErrInvalidState},
		{&utils.NotFoundError{Resource: "vendor", Key: 7}, utils.ErrNotFound},
		{&utils.ConcurrencyError{Resource: "vendor sequence"}, utils.ErrConcurrency},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.target) {
			t.Errorf("%v should match %v", tt.err, tt.target)
		}
	}

	cause := errors.New("lock held")
	cerr := &utils.ConcurrencyError{Resource: "vendor sequence", Err: cause}
	if !errors.Is(cerr, cause) || !errors.Is(cerr, utils.ErrConcurrency) {
		t.Fatalf("ConcurrencyError should match both its cause and ErrConcurrency")
	}
	if errors.Is(cerr, utils.ErrNotFound) {
		t.Fatalf("ConcurrencyError must not match ErrNotFound")
	}
}

func TestValidateStructUsesJsonNames(t *testing.T) {
	type input struct {
		ZipCode string `json:"zip_code" validate:"zipcode"`
		Phone   string `json:"phone" validate:"phone"`
		Email   string `json:"email" validate:"omitempty,email"`
	}
	verr := utils.ValidateStruct(&input{ZipCode: "1234", Phone: "12ab", Email: "x"})
	for _, field := range []string{"zip_code", "phone", "email"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Fatalf("expected %s flagged, got %v", field, verr.Fields)
		}
	}
	if ok := utils.ValidateStruct(&input{ZipCode: "07081-1234", Phone: "+12015550123"}); ok.HasErrors() {
		t.Fatalf("expected valid input, got %v", ok.Fields)
	}
}

func TestSliceHelpers(t *testing.T) {
	got := utils.UniqueSlice([]int{3, 1, 3, 2, 1})
	if len(got) != 3 || got[0] != 3 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("UniqueSlice kept order wrong: %v", got)
	}
	var nilPtr *int
	if utils.DereferencePtr(nilPtr, 5) != 5 {
		t.Fatalf("DereferencePtr should fall back to the default")
	}
	if utils.NilIfEmpty("") != nil || *utils.NilIfEmpty("a") != "a" {
		t.Fatalf("NilIfEmpty mismatch")
	}
}

func TestBeforeToday(t *testing.T) {
	y, m, d := time.Now().Date()
	tests := []struct {
		name string
		in   time.Time
		want bool
	}{
		{"today local", time.Date(y, m, d, 23, 0, 0, 0, time.Local), false},
		{"today as midnight UTC", time.Date(y, m, d, 0, 0, 0, 0, time.UTC), false},
		{"today far east", time.Date(y, m, d, 0, 0, 0, 0, time.FixedZone("UTC+14", 14*60*60)), false},
		{"yesterday", time.Date(y, m, d-1, 23, 59, 0, 0, time.UTC), true},
		{"tomorrow", time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		if got := utils.BeforeToday(tt.in); got != tt.want {
			t.Errorf("%s: BeforeToday(%v) = %v, want %v", tt.name, tt.in, got, tt.want)
		}
	}
}
