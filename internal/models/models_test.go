package models

import "testing"

func TestBaseModelBeforeCreateGeneratesID(t *testing.T) {
	var base BaseModel
	if err := base.BeforeCreate(nil); err != nil {
		t.Fatalf("before create: %v", err)
	}
	if base.ID == "" {
		t.Fatal("expected base model ID to be generated")
	}
}

func TestBaseModelBeforeCreateKeepsExplicitID(t *testing.T) {
	base := BaseModel{ID: "fixed"}
	if err := base.BeforeCreate(nil); err != nil {
		t.Fatalf("before create: %v", err)
	}
	if base.ID != "fixed" {
		t.Fatalf("expected explicit id to be preserved, got %q", base.ID)
	}
}

func TestEmbeddedModelsUseBaseBeforeCreate(t *testing.T) {
	cases := []struct {
		name  string
		model func() *BaseModel
	}{
		{"user", func() *BaseModel { return &(&User{}).BaseModel }},
		{"post", func() *BaseModel { return &(&Post{}).BaseModel }},
		{"like", func() *BaseModel { return &(&Like{}).BaseModel }},
		{"comment", func() *BaseModel { return &(&Comment{}).BaseModel }},
		{"chat", func() *BaseModel { return &(&Chat{}).BaseModel }},
		{"message", func() *BaseModel { return &(&Message{}).BaseModel }},
		{"notification", func() *BaseModel { return &(&Notification{}).BaseModel }},
		{"report", func() *BaseModel { return &(&Report{}).BaseModel }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			base := tc.model()
			if err := base.BeforeCreate(nil); err != nil {
				t.Fatalf("before create: %v", err)
			}
			if base.ID == "" {
				t.Fatalf("expected %s id to be generated", tc.name)
			}
		})
	}
}

func TestValidSeverity(t *testing.T) {
	for _, value := range []string{SeverityInfo, SeverityWarning, SeverityError, SeveritySuccess} {
		if !ValidSeverity(value) {
			t.Fatalf("expected %q to be valid", value)
		}
	}
	if ValidSeverity("critical") {
		t.Fatal("expected unknown severity to be rejected")
	}
}
