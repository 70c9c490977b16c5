package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestParseBundle(t *testing.T) {
	tests := []struct {
		name     string
		in       BundleInput
		wantKind BundleKind
		wantErr  error
	}{
		{"keys", BundleInput{AccessKeyID: "AKIAEXAMPLE12345", SecretAccessKey: "s", Region: "eu-west-1"}, BundleKeys, nil},
		{"keys with token", BundleInput{AccessKeyID: "ASIAEXAMPLE12345", SecretAccessKey: "s", SessionToken: "t"}, BundleKeys, nil},
		{"profile", BundleInput{Profile: "prod"}, BundleProfile, nil},
		{"mixed", BundleInput{AccessKeyID: "AKIAEXAMPLE12345", SecretAccessKey: "s", Profile: "prod"}, "", ErrInvalidBundle},
		{"token with profile", BundleInput{SessionToken: "t", Profile: "prod"}, "", ErrInvalidBundle},
		{"neither", BundleInput{Region: "us-east-1"}, "", ErrInvalidBundle},
		{"missing secret", BundleInput{AccessKeyID: "AKIAEXAMPLE12345"}, "", ErrInvalidBundle},
		{"secret only", BundleInput{SecretAccessKey: "s"}, "", ErrInvalidBundle},
		{"bad region", BundleInput{Profile: "prod", Region: "mars"}, "", ErrInvalidBundle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ParseBundle(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.Kind() != tt.wantKind {
				t.Errorf("kind = %s, want %s", b.Kind(), tt.wantKind)
			}
		})
	}
}

func TestParseBundleDefaultsRegion(t *testing.T) {
	b, err := ParseBundle(BundleInput{Profile: "dev"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if b.RegionName() != DefaultRegion {
		t.Errorf("region = %q, want %q", b.RegionName(), DefaultRegion)
	}
}

func TestParseBundleWithConfiguredDefault(t *testing.T) {
	b, err := ParseBundleWithDefault(BundleInput{Profile: "dev"}, "eu-west-1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if b.RegionName() != "eu-west-1" {
		t.Errorf("region = %q, want eu-west-1", b.RegionName())
	}

	b, err = ParseBundleWithDefault(BundleInput{Profile: "dev", Region: "us-west-2"}, "eu-west-1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if b.RegionName() != "us-west-2" {
		t.Errorf("region = %q, want us-west-2", b.RegionName())
	}
}

func TestKeyBundleNeverFormatsSecret(t *testing.T) {
	b := KeyBundle{AccessKeyID: "AKIAABCDEFGHWXYZ", SecretAccessKey: "very-secret", SessionToken: "tok", Region: "us-east-1"}
	for _, s := range []string{fmt.Sprint(b), fmt.Sprintf("%+v", b), fmt.Sprintf("%#v", b)} {
		if strings.Contains(s, "very-secret") || strings.Contains(s, "tok}") {
			t.Errorf("formatted bundle leaks secret: %s", s)
		}
	}
	if got := b.MaskedKeyID(); got != "AKIA...WXYZ" {
		t.Errorf("masked = %q", got)
	}
}

func TestValidateAlias(t *testing.T) {
	valid := []string{"prod", "dev-1", "team.sandbox", "a", "Prod_EU"}
	invalid := []string{"", "-lead", "has space", "slash/alias", strings.Repeat("x", 65)}

	for _, a := range valid {
		if err := ValidateAlias(a); err != nil {
			t.Errorf("alias %q rejected: %v", a, err)
		}
	}
	for _, a := range invalid {
		if err := ValidateAlias(a); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("alias %q accepted", a)
		}
	}
}

func TestErrorIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NotFound("account %q not found", "prod"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected errors.Is to match ErrNotFound")
	}
	if errors.Is(err, ErrBusy) {
		t.Fatal("NotFound must not match ErrBusy")
	}
	if CodeOf(err) != CodeNotFound {
		t.Errorf("code = %q", CodeOf(err))
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("plain errors have no code")
	}
}

func TestTaskLifecycle(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("complete", func(t *testing.T) {
		task := NewTask("t1", "list buckets", "prod", "", created)
		if err := task.CheckInvariants(); err != nil {
			t.Fatal(err)
		}
		if err := task.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		if err := task.Complete("ok", created.Add(2*time.Second)); err != nil {
			t.Fatalf("complete: %v", err)
		}
		if *task.Duration != 2*time.Second {
			t.Errorf("duration = %v", *task.Duration)
		}
		if err := task.CheckInvariants(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("fail", func(t *testing.T) {
		task := NewTask("t2", "x", "prod", "", created)
		task.Start()
		if err := task.Fail("boom", created.Add(time.Second)); err != nil {
			t.Fatalf("fail: %v", err)
		}
		if task.Result != nil || task.Error == nil || *task.Error != "boom" {
			t.Errorf("unexpected fields: %+v", task)
		}
	})

	t.Run("illegal transitions", func(t *testing.T) {
		task := NewTask("t3", "x", "prod", "", created)
		if err := task.Complete("early", created); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("pending -> completed should be rejected, got %v", err)
		}
		task.Start()
		if err := task.Start(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("double start should be rejected, got %v", err)
		}
		task.Complete("done", created)
		if err := task.Fail("late", created); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("terminal task reopened, got %v", err)
		}
		if task.Status != TaskCompleted {
			t.Errorf("status changed to %s", task.Status)
		}
	})
}
