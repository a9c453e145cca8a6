package service

import (
	_ "embed"
	"strings"

	"decodebook-backend/models"
)

//go:embed prompt.txt
var systemPromptTemplate string

const finalStepNotice = "This is your final step. Do not call any more tools; reply now with the final JSON answer."

func systemPrompt() string {
	return strings.ReplaceAll(systemPromptTemplate, "{{NOT_FOUND}}", models.NotFoundConclusion)
}

func correctionMessage(err error) string {
	return "Your answer was rejected: " + err.Error() + ". Fix these problems, using tools if you need more evidence, then reply with the corrected JSON answer."
}
