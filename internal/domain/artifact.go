package domain

import "strings"

// ArtifactKind names a text artifact produced by a stage.
type ArtifactKind string

const (
	ArtifactTranscript           ArtifactKind = "transcript"
	ArtifactTranscriptLanguage   ArtifactKind = "transcript_language"
	ArtifactTranscriptSecondary  ArtifactKind = "transcript_secondary"
	ArtifactTranslatedTranscript ArtifactKind = "translated_transcript"
	ArtifactSummary              ArtifactKind = "summary"
	ArtifactTags                 ArtifactKind = "tags"
	ArtifactScript               ArtifactKind = "script"
)

// ArtifactProducer maps each artifact to the stage that writes it.
var ArtifactProducer = map[ArtifactKind]Stage{
	ArtifactTranscript:           StageTranscription,
	ArtifactTranscriptLanguage:   StageTranscription,
	ArtifactTranscriptSecondary:  StageTranscription,
	ArtifactTranslatedTranscript: StageTranslation,
	ArtifactSummary:              StageSummarization,
	ArtifactTags:                 StageSummarization,
	ArtifactScript:               StageScript,
}

// Artifacts holds the current text artifacts of a job keyed by kind.
type Artifacts map[ArtifactKind]string

// Get returns the artifact value, empty when absent.
func (a Artifacts) Get(kind ArtifactKind) string {
	if a == nil {
		return ""
	}
	return a[kind]
}

// Require returns the artifact or a MissingArtifactError when it is blank.
func (a Artifacts) Require(kind ArtifactKind) (string, error) {
	v := strings.TrimSpace(a.Get(kind))
	if v == "" {
		return "", &MissingArtifactError{Artifact: string(kind), Producer: ArtifactProducer[kind]}
	}
	return a[kind], nil
}

// Tags splits the stored comma separated tag list.
func (a Artifacts) Tags() []string {
	return SplitTags(a.Get(ArtifactTags))
}

// SplitTags parses a comma separated tag list, dropping blanks.
func SplitTags(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if tag := strings.TrimSpace(part); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// JoinTags is the inverse of SplitTags.
func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}
