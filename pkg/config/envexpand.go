package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv substitutes {{.VAR}} references in raw config bytes with values
// from the process environment. Go template syntax is used instead of
// shell-style ${VAR} so that regex patterns and literal dollar signs in
// blocklist or redaction entries survive expansion untouched.
//
// Unknown variables expand to the empty string.
func ExpandEnv(data []byte) ([]byte, error) {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return nil, fmt.Errorf("expand config template: %w", err)
	}
	return buf.Bytes(), nil
}
