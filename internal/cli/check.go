package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"spbridge/pkg/script"
	"spbridge/pkg/wasm"
)

// Diagnostic is one finding of `spbridge check`.
type Diagnostic struct {
	Type     string `json:"type"` // "error" or "warning"
	Function string `json:"function,omitempty"`
	Message  string `json:"message"`
}

// checkPlugin validates the plugin directory at path: manifest fields, the
// binary if one is declared, and every script expression.
func checkPlugin(path string) []Diagnostic {
	var diags []Diagnostic
	errorf := func(fn, format string, args ...interface{}) {
		diags = append(diags, Diagnostic{Type: "error", Function: fn, Message: fmt.Sprintf(format, args...)})
	}
	warnf := func(fn, format string, args ...interface{}) {
		diags = append(diags, Diagnostic{Type: "warning", Function: fn, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		errorf("", "plugin directory not found: %s", path)
		return diags
	}

	manifest, err := wasm.ReadManifest(path)
	if err != nil {
		errorf("", "manifest invalid: %v", err)
		return diags
	}

	if manifest.Version == "" {
		errorf("", "manifest missing required field: version")
	}
	if manifest.Author == "" {
		warnf("", "optional field 'author' not set")
	}
	if manifest.Description == "" {
		warnf("", "optional field 'description' not set")
	}
	if len(manifest.Functions) == 0 {
		warnf("", "plugin declares no functions")
	}

	if manifest.Binary != "" {
		if _, err := os.Stat(filepath.Join(path, manifest.Binary)); err != nil {
			errorf("", "WASM binary not found: %s", manifest.Binary)
		} else if !strings.HasSuffix(manifest.Binary, ".wasm") {
			warnf("", "binary doesn't have .wasm extension")
		}
		if manifest.Entry == "" {
			warnf("", "binary declared without an entry export; run will not work")
		}
	}

	for _, fn := range manifest.Functions {
		if strings.TrimSpace(fn.Expr) == "" {
			errorf(fn.Name, "empty expression")
			continue
		}
		if _, err := script.CompileExpr(fn.Name, fn.Expr); err != nil {
			errorf(fn.Name, "%v", err)
		}
	}

	return diags
}

func countDiagnostics(diags []Diagnostic) (errors, warnings int) {
	for _, d := range diags {
		if d.Type == "error" {
			errors++
		} else {
			warnings++
		}
	}
	return errors, warnings
}

func HandleCheck(args []string) {
	os.Exit(runCheck(args, os.Stdout))
}

func runCheck(args []string, out io.Writer) int {
	isJSON := false
	path := ""
	for _, arg := range args {
		if arg == "--json" {
			isJSON = true
		} else {
			path = arg
		}
	}

	if path == "" {
		fmt.Fprintln(out, "Usage: spbridge check [--json] <plugin-dir>")
		return 1
	}

	diags := checkPlugin(path)
	errors, warnings := countDiagnostics(diags)

	if isJSON {
		if diags == nil {
			diags = []Diagnostic{}
		}
		data, _ := json.MarshalIndent(map[string]interface{}{
			"success":     errors == 0,
			"diagnostics": diags,
		}, "", "  ")
		fmt.Fprintln(out, string(data))
		if errors > 0 {
			return 1
		}
		return 0
	}

	fmt.Fprintf(out, "\nValidating plugin at: %s\n", path)
	fmt.Fprintln(out, strings.Repeat("=", 60))
	for _, d := range diags {
		icon := "⚠️ "
		if d.Type == "error" {
			icon = "❌"
		}
		if d.Function != "" {
			fmt.Fprintf(out, "%s %s: %s\n", icon, d.Function, d.Message)
		} else {
			fmt.Fprintf(out, "%s %s\n", icon, d.Message)
		}
	}
	fmt.Fprintln(out, strings.Repeat("=", 60))

	switch {
	case errors > 0:
		fmt.Fprintf(out, "❌ Validation failed with %d error(s) and %d warning(s)\n", errors, warnings)
		return 1
	case warnings > 0:
		fmt.Fprintf(out, "⚠️  Validation passed with %d warning(s)\n", warnings)
	default:
		fmt.Fprintln(out, "✅ Validation passed!")
	}
	return 0
}
