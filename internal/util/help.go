package util

import "github.com/fatih/color"

var sectionTitle = color.New(color.FgGreen).SprintFunc()
var sectionBody = color.New(color.FgWhite, color.Bold).SprintFunc()

// GenerateHelpSection formats a titled section for dialect and sink help
// output.
func GenerateHelpSection(title string, body string) string {
	return sectionTitle(title) + "\n\n" + sectionBody(body)
}
