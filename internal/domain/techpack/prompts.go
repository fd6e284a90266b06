package techpack

import (
	"fmt"
	"strings"
)

func baseViewPrompt(category, view string, opts GenerateOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a technical designer preparing a manufacturing tech pack.\n")
	fmt.Fprintf(&b, "Analyse this %s view of a %s product.\n", view, orDefault(category, "consumer"))
	b.WriteString(`Respond with a single JSON object with the keys "productName", "materials" (array of {name, placement, notes}), `)
	b.WriteString(`"dimensions" (object of measurement name to value with unit), "construction" (array of strings) and "colors" (array of strings).`)
	if opts.Notes != "" {
		fmt.Fprintf(&b, "\nDesigner notes: %s", opts.Notes)
	}
	return b.String()
}

func componentsPrompt(category string, baseAnalysis []byte) string {
	return fmt.Sprintf(`Given this tech pack analysis of a %s product:
%s

List the distinct physical components a factory must source or assemble.
Respond with JSON: {"components": [{"name": "...", "description": "...", "material": "..."}]}`,
		orDefault(category, "consumer"), baseAnalysis)
}

func closeUpPrompt(category string, c Component, opts GenerateOptions) string {
	return fmt.Sprintf("Studio close-up product photograph of the %s of a %s. %s Material: %s. Neutral grey background, even lighting, sharp focus on construction details.%s",
		c.Name, orDefault(category, "product"), c.Description, orDefault(c.Material, "unspecified"), styleSuffix(opts))
}

func sketchPrompt(category, view string, baseAnalysis []byte, opts GenerateOptions) string {
	return fmt.Sprintf("Black and white technical flat sketch, %s view, of a %s. Clean vector line art on white, no shading, no text, stitch lines shown as dashed lines.%s\nReference analysis: %s",
		view, orDefault(category, "product"), styleSuffix(opts), truncate(string(baseAnalysis), 1500))
}

func assemblyPrompt(category string, baseAnalysis []byte, opts GenerateOptions) string {
	return fmt.Sprintf("Exploded assembly view of a %s showing every component separated along its assembly axis with thin leader lines. Technical illustration style on white.%s\nReference analysis: %s",
		orDefault(category, "product"), styleSuffix(opts), truncate(string(baseAnalysis), 1500))
}

func styleSuffix(opts GenerateOptions) string {
	if opts.Style == "" {
		return ""
	}
	return " Style: " + opts.Style + "."
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
