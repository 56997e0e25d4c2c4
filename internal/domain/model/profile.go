package model

// UserProfile is the public GitHub profile of the account being evaluated.
type UserProfile struct {
	Username    string `json:"username"`
	Name        string `json:"name"`
	Bio         string `json:"bio"`
	PublicRepos int    `json:"public_repos"`
	Followers   int    `json:"followers"`
}

// TreeEntry is a single blob or subtree path from a recursive git tree.
type TreeEntry struct {
	Path string
	Type string // "blob" or "tree".
}

// RepoDigest is the sampled content of one repository handed to the evaluator.
type RepoDigest struct {
	Name        string
	IsFork      bool
	Languages   []string
	Extensions  []string
	Readme      string
	CodeSamples []CodeSample
}

// CodeSample is a truncated source file from a repository.
type CodeSample struct {
	Path    string
	Content string
}

// Report is the evaluator's verdict on a candidate.
type Report struct {
	CandidateName      string   `json:"candidate_name"`
	TechnicalScore     int      `json:"technical_score"`
	EstimatedLevel     string   `json:"estimated_level"`
	PrimaryLanguages   []string `json:"primary_languages"`
	TechnicalStrengths []string `json:"technical_strengths"`
	RedFlags           []string `json:"red_flags"`
	HiringVerdict      string   `json:"hiring_verdict"`
	SummaryReport      string   `json:"summary_report"`
	// Limited is set when the report was produced without the model.
	Limited bool `json:"limited,omitempty"`
}
