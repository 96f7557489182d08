package stdout

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestSend_PrintsEnvelopeAndMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tr := NewWithWriter(&buf)

	raw := []byte("Subject: Monthly Report\r\n\r\nPlease find the report attached.\r\n")
	err := tr.Send(context.Background(), raw, "list+bounces--alice=example.com@lists.example.com", "alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()

	if !strings.Contains(output, "Envelope-From: list+bounces--alice=example.com@lists.example.com") {
		t.Error("output missing envelope sender")
	}
	if !strings.Contains(output, "Envelope-To: alice@example.com") {
		t.Error("output missing envelope recipient")
	}
	if !strings.Contains(output, "Subject: Monthly Report") {
		t.Error("output missing message headers")
	}
	if !strings.Contains(output, "Please find the report attached.") {
		t.Error("output missing message body")
	}
	if !strings.HasPrefix(output, "========================================\n") {
		t.Error("output should start with separator line")
	}
	if !strings.HasSuffix(output, "========================================\n") {
		t.Error("output should end with separator line")
	}
}

func TestSend_EmptyMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tr := NewWithWriter(&buf)

	err := tr.Send(context.Background(), nil, "a@b.test", "c@d.test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Size: 0 B") {
		t.Error("output should report zero size")
	}
	if !strings.HasSuffix(output, "========================================\n") {
		t.Error("output should end with separator line")
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	tr := New()
	if tr.Name() != "stdout" {
		t.Errorf("Name: got %q, want %q", tr.Name(), "stdout")
	}
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		bytes int
		want  string
	}{
		{name: "zero bytes", bytes: 0, want: "0 B"},
		{name: "small bytes", bytes: 512, want: "512 B"},
		{name: "kilobytes", bytes: 46080, want: "45.0 KB"},
		{name: "megabytes", bytes: 1258291, want: "1.2 MB"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := formatSize(tt.bytes)
			if got != tt.want {
				t.Errorf("formatSize(%d): got %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}
