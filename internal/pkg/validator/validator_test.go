package validator

import "testing"

type sample struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	Plan      string `json:"plan" validate:"required,plan"`
	Path      string `json:"path" validate:"omitempty,dotted_path"`
}

func TestValidateUsesJSONNames(t *testing.T) {
	errs := Validate(sample{Plan: "enterprise", Path: "a..b"})

	if errs["productId"] != "This field is required" {
		t.Fatalf("unexpected productId error: %q", errs["productId"])
	}
	if errs["plan"] == "" {
		t.Fatal("expected plan error")
	}
	if errs["path"] == "" {
		t.Fatal("expected path error")
	}
}

func TestValidateAcceptsValidInput(t *testing.T) {
	errs := Validate(sample{
		ProductID: "9f1c1d0e-6a53-4bb4-9a40-6ad1c6c3b9f1",
		Plan:      "pro",
		Path:      "materials.0.name",
	})
	if errs != nil {
		t.Fatalf("expected no errors, got %v", errs)
	}
}
