package gemini

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/ericfisherdev/gitscout/internal/domain/model"
)

var promptTemplate = template.Must(template.New("prompt").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`You are a Senior Technical Recruiter. Evaluate this GitHub Candidate.

CANDIDATE PROFILE:
{{.Profile}}

TOP PROJECT ANALYSIS:
{{range .Repos}}
REPO: {{.Name}} {{if .IsFork}}(FORKED PROJECT){{else}}(ORIGINAL){{end}}
DETECTED LANGUAGES (API): {{if .Languages}}{{join .Languages ", "}}{{else}}Unknown{{end}}
FILE EXTENSIONS FOUND: {{join .Extensions ", "}}
README: {{.Readme}}
CODE SAMPLES:
{{range .CodeSamples}}
--- FILE: {{.Path}} ---
{{.Content}}
{{end}}
====================
{{end}}
TASK:
1. Score the candidate from 0-100 based on code quality, complexity, and stack.
2. Identify specific languages from file extensions.
3. Determine seniority.

OUTPUT JSON ONLY (No Markdown):
{
    "candidate_name": {{.CandidateName}},
    "technical_score": (0-100),
    "estimated_level": "Junior | Mid | Senior",
    "primary_languages": ["List specific languages found"],
    "technical_strengths": ["list"],
    "red_flags": ["list (or 'None')"],
    "hiring_verdict": "Strong Hire | Lean Hire | Pass",
    "summary_report": "2-3 sentences justifying the decision."
}
`))

// buildPrompt renders the evaluation prompt for one candidate.
func buildPrompt(profile model.UserProfile, repos []model.RepoDigest) (string, error) {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return "", fmt.Errorf("encode profile: %w", err)
	}
	name, err := json.Marshal(candidateName(profile))
	if err != nil {
		return "", fmt.Errorf("encode candidate name: %w", err)
	}

	var b strings.Builder
	err = promptTemplate.Execute(&b, struct {
		Profile       string
		CandidateName string
		Repos         []model.RepoDigest
	}{
		Profile:       string(profileJSON),
		CandidateName: string(name),
		Repos:         repos,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}

func candidateName(profile model.UserProfile) string {
	if profile.Name != "" {
		return profile.Name
	}
	return profile.Username
}

// stripFences removes markdown code fences some models wrap JSON output in.
func stripFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}
