package output

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestNewOutput(t *testing.T) {
	var buf bytes.Buffer
	o := New(&buf)

	if o.w != &buf {
		t.Error("writer not set correctly")
	}
	if !o.useColor {
		t.Error("expected useColor to be true by default")
	}
}

func TestColorOutput(t *testing.T) {
	t.Run("color enabled", func(t *testing.T) {
		o := New(&bytes.Buffer{})

		result := o.color(colorGreen, "test")
		if result != "\033[32mtest\033[0m" {
			t.Errorf("unexpected colored output %q", result)
		}
	})

	t.Run("color disabled", func(t *testing.T) {
		o := New(&bytes.Buffer{})
		o.SetColor(false)

		if result := o.color(colorGreen, "test"); result != "test" {
			t.Errorf("expected plain 'test', got %q", result)
		}
	})
}

func TestItem(t *testing.T) {
	tests := []struct {
		name    string
		item    string
		status  Status
		debug   bool
		detail  string
		wantIn  []string
		wantOut []string
	}{
		{
			name:   "ok",
			item:   "workflows.jar",
			status: StatusOK,
			wantIn: []string{"✓", "workflows.jar"},
		},
		{
			name:    "ok hides detail without debug",
			item:    "workflows.jar",
			status:  StatusOK,
			detail:  "written",
			wantIn:  []string{"✓"},
			wantOut: []string{"written"},
		},
		{
			name:   "ok shows detail in debug",
			item:   "workflows.jar",
			status: StatusOK,
			debug:  true,
			detail: "written",
			wantIn: []string{"→ written"},
		},
		{
			name:   "failed always shows detail",
			item:   "contracts.jar",
			status: StatusFailed,
			detail: "failed to transfer\nstderr: disk full\n",
			wantIn: []string{"✗", "contracts.jar", "→ failed to transfer", "→ stderr: disk full"},
		},
		{
			name:   "skipped",
			item:   "restart",
			status: StatusSkipped,
			wantIn: []string{"○", "restart"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			o := New(&buf)
			o.SetColor(false)
			o.SetDebug(tt.debug)

			o.Item(tt.item, tt.status, tt.detail)

			output := buf.String()
			for _, want := range tt.wantIn {
				if !strings.Contains(output, want) {
					t.Errorf("expected output to contain %q, got %q", want, output)
				}
			}
			for _, unwanted := range tt.wantOut {
				if strings.Contains(output, unwanted) {
					t.Errorf("expected output not to contain %q, got %q", unwanted, output)
				}
			}
		})
	}
}

func TestList(t *testing.T) {
	var buf bytes.Buffer
	o := New(&buf)
	o.SetColor(false)

	o.List("FLOWS", []string{"flowA", "flowB"})
	if got, want := buf.String(), "\nFLOWS\n  flowA\n  flowB\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	buf.Reset()
	o.List("FLOWS", nil)
	if !strings.Contains(buf.String(), "(none)") {
		t.Errorf("expected placeholder, got %q", buf.String())
	}
}

func TestRaw(t *testing.T) {
	var buf bytes.Buffer
	o := New(&buf)

	o.Raw("states: []")
	o.Raw("")
	o.Raw("done\n")
	if got, want := buf.String(), "states: []\ndone\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	o := New(&buf)
	o.SetColor(false)

	o.Info("test %s %d", "message", 42)
	o.Warn("warning %s", "here")
	o.Error("error: %v", "failed")

	output := buf.String()
	for _, want := range []string{"INFO test message 42", "WARN warning here", "ERROR error: failed"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in %q", want, output)
		}
	}
}

func TestDebugOutput(t *testing.T) {
	t.Run("debug enabled", func(t *testing.T) {
		var buf bytes.Buffer
		o := New(&buf)
		o.SetColor(false)
		o.SetDebug(true)

		o.Debug("debug %s", "info")

		if !strings.Contains(buf.String(), "DEBUG debug info") {
			t.Errorf("expected DEBUG line, got %q", buf.String())
		}
	})

	t.Run("debug disabled", func(t *testing.T) {
		var buf bytes.Buffer
		o := New(&buf)
		o.SetColor(false)

		o.Debug("debug %s", "info")

		if buf.String() != "" {
			t.Errorf("expected empty output when debug disabled, got %q", buf.String())
		}
	})
}

func TestDeployBanners(t *testing.T) {
	var buf bytes.Buffer
	o := New(&buf)
	o.SetColor(false)

	o.DeployStart("http://127.0.0.1:8080", 2)
	o.DeployEnd(1, 1, 2500*time.Millisecond)

	output := buf.String()
	for _, want := range []string{"DEPLOY http://127.0.0.1:8080 (2 jars)", "RECAP", "deployed=1", "errors=1", "2.50s"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in %q", want, output)
		}
	}
}
