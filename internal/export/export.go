// Package export packages a session's generated artifacts into a zip archive
// containing the component file, its stylesheet, and a usage note.
package export

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"uiforge/internal/models"
)

const (
	componentFileName  = "Component.tsx"
	stylesheetFileName = "Component.css"
	readmeFileName     = "README.md"
)

// Archive builds the downloadable zip for a session. At least one artifact
// must be present; an empty session has nothing to export.
func Archive(session *models.Session) ([]byte, error) {
	if session == nil {
		return nil, errors.New("session is required")
	}
	if session.GeneratedMarkup == "" && session.GeneratedStyle == "" {
		return nil, errors.New("session has no generated artifacts")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if session.GeneratedMarkup != "" {
		if err := writeFile(zw, componentFileName, componentSource(session.GeneratedMarkup)); err != nil {
			return nil, err
		}
	}
	if session.GeneratedStyle != "" {
		if err := writeFile(zw, stylesheetFileName, session.GeneratedStyle); err != nil {
			return nil, err
		}
	}
	if err := writeFile(zw, readmeFileName, usageNote(session)); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

func writeFile(zw *zip.Writer, name, content string) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// componentSource appends a default export when the generated markup lacks
// one so the unpacked file imports cleanly.
func componentSource(markup string) string {
	if strings.Contains(markup, "export default") {
		return markup
	}
	return markup + "\n\nexport default Component;"
}

func usageNote(session *models.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", session.Name)
	if session.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", session.Description)
	}
	b.WriteString("Generated with the AI component playground.\n\n## Usage\n\n")
	if session.GeneratedMarkup != "" {
		fmt.Fprintf(&b, "1. Copy `%s` into your components directory.\n", componentFileName)
	}
	if session.GeneratedStyle != "" {
		fmt.Fprintf(&b, "2. Import `%s` from the component or your global stylesheet.\n", stylesheetFileName)
	}
	fmt.Fprintf(&b, "\nExported %s.\n", time.Now().UTC().Format("2006-01-02"))
	return b.String()
}
