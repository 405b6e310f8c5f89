package textgen

import (
	"fmt"
	"strings"
)

const wordsPerSecond = 2.5

func buildTranscriptPrompt(transcript, target string) string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Translate the following video transcript into %s. ", target)
	sb.WriteString("Keep the meaning, tone and paragraph breaks. Do not add commentary, notes or quotes around the result. ")
	sb.WriteString("Keep any bracketed or angle-bracketed markup exactly as written.\n\n")
	sb.WriteString(transcript)
	return sb.String()
}

func buildMetadataPrompt(title, description, target string) string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Translate this video title and description into %s. ", target)
	sb.WriteString(`Respond strictly with JSON matching this schema: {"title":string,"description":string}. `)
	fmt.Fprintf(sb, "Input: title=%q, description=%q.", title, description)
	return sb.String()
}

func buildSummaryPrompt(transcript, target string, maxTags int) string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Summarize the following video transcript in %s in at most three sentences, ", target)
	fmt.Fprintf(sb, "and propose up to %d short topic tags in %s. ", maxTags, target)
	sb.WriteString(`Respond strictly with JSON matching this schema: {"summary":string,"tags":string[]}.`)
	sb.WriteString("\n\nTranscript:\n")
	sb.WriteString(transcript)
	return sb.String()
}

func buildScriptPrompt(in ScriptInput, target string) string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Write a voice-over narration script in %s for a short video. ", target)
	if in.DurationSeconds > 0 {
		words := int(in.DurationSeconds * wordsPerSecond)
		fmt.Fprintf(sb, "The video lasts %.0f seconds, so aim for about %d words. ", in.DurationSeconds, words)
	}
	sb.WriteString("Return only the spoken text, no stage directions, headings or speaker labels. ")
	sb.WriteString("Follow the translated transcript closely and use the summary for context.\n\n")
	if s := strings.TrimSpace(in.Summary); s != "" {
		fmt.Fprintf(sb, "Summary:\n%s\n\n", s)
	}
	sb.WriteString("Translated transcript:\n")
	sb.WriteString(in.TranslatedTranscript)
	return sb.String()
}
