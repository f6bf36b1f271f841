package contenthash

import "testing"

func base() Fields {
	return Fields{
		Title:       "Fix bug",
		Description: "Crash on startup",
		Status:      "open",
		Priority:    2,
		IssueType:   "bug",
	}
}

func TestComputeDeterministic(t *testing.T) {
	a := Compute(base())
	b := Compute(base())
	if a != b {
		t.Fatalf("hash not deterministic: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
}

func TestComputeSensitiveToEachField(t *testing.T) {
	ref := Compute(base())
	tests := []struct {
		name   string
		mutate func(*Fields)
	}{
		{"title", func(f *Fields) { f.Title = "Fix other bug" }},
		{"description", func(f *Fields) { f.Description = "" }},
		{"design", func(f *Fields) { f.Design = "x" }},
		{"acceptance", func(f *Fields) { f.AcceptanceCriteria = "x" }},
		{"notes", func(f *Fields) { f.Notes = "x" }},
		{"status", func(f *Fields) { f.Status = "closed" }},
		{"priority", func(f *Fields) { f.Priority = 0 }},
		{"type", func(f *Fields) { f.IssueType = "feature" }},
		{"assignee", func(f *Fields) { f.Assignee = "alice" }},
		{"owner", func(f *Fields) { f.Owner = "bob" }},
		{"created_by", func(f *Fields) { f.CreatedBy = "carol" }},
		{"external_ref", func(f *Fields) { f.ExternalRef = "gh-12" }},
		{"source_system", func(f *Fields) { f.SourceSystem = "jira" }},
		{"pinned", func(f *Fields) { f.Pinned = true }},
		{"template", func(f *Fields) { f.IsTemplate = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := base()
			tt.mutate(&f)
			if got := Compute(f); got == ref {
				t.Errorf("changing %s did not change the hash", tt.name)
			}
		})
	}
}

func TestComputeFieldBoundaries(t *testing.T) {
	a := base()
	a.Title, a.Description = "ab", ""
	b := base()
	b.Title, b.Description = "a", "b"
	if Compute(a) == Compute(b) {
		t.Error("shifting bytes between adjacent fields produced the same hash")
	}

	nulA := base()
	nulA.Title, nulA.Description = "a\x00b", ""
	nulB := base()
	nulB.Title, nulB.Description = "a", "b\x00"
	if Compute(nulA) == Compute(nulB) {
		t.Error("a NUL inside a field was taken for a field boundary")
	}

	p := base()
	p.Pinned = true
	tpl := base()
	tpl.IsTemplate = true
	if Compute(p) == Compute(tpl) {
		t.Error("pinned and template flags hashed identically")
	}
}
