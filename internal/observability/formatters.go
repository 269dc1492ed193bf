// Package observability provides formatted output for the journey CLI.
package observability

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jonathan/career-journey/internal/journey"
	"github.com/jonathan/career-journey/internal/stages"
	"github.com/jonathan/career-journey/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 64
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted CLI output
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)
	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}
	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintJourney outputs the current stage and the stage history.
func (p *Printer) PrintJourney(state *types.JourneyState) {
	if state == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "User:     %s\n", state.UserID)
	fmt.Fprintf(&sb, "Stage:    %s\n", state.CurrentStage)
	fmt.Fprintf(&sb, "          %s\n", stages.Describe(state.CurrentStage))
	if state.SelectedPath != nil {
		fmt.Fprintf(&sb, "Path:     %s\n", state.SelectedPath.Title)
	}
	fmt.Fprintf(&sb, "Updated:  %s\n", state.UpdatedAt.Format(time.RFC3339))

	if len(state.StageHistory) > 0 {
		sb.WriteString("\nHistory:\n")
		for _, e := range state.StageHistory {
			fmt.Fprintf(&sb, "  %s  %s", e.EnteredAt.Format("2006-01-02 15:04:05"), e.Stage)
			if e.Action != "" {
				fmt.Fprintf(&sb, " (%s)", e.Action)
			}
			sb.WriteString("\n")
		}
	}

	p.printBox("JOURNEY", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintProgress outputs a progress bar for the journey.
func (p *Printer) PrintProgress(progress *stages.Progress) {
	if progress == nil {
		return
	}

	const barWidth = 40
	filled := int(progress.Percentage / 100 * barWidth)
	filled = max(0, min(barWidth, filled))

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s%s] %.0f%%\n", strings.Repeat("█", filled), strings.Repeat("░", barWidth-filled), progress.Percentage)
	fmt.Fprintf(&sb, "Step %d of %d: %s", progress.CurrentStep, progress.TotalSteps, progress.CurrentStage)
	if progress.Paused {
		sb.WriteString(" (paused)")
	}
	sb.WriteString("\n")
	sb.WriteString(progress.Description)

	p.printBox("PROGRESS", sb.String())
}

// PrintArtifact outputs a summary of an artifact's payload.
func (p *Printer) PrintArtifact(a *types.Artifact) {
	if a == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Version %d, generated %s\n", a.Version, a.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Fingerprint: %s\n\n", shortFingerprint(a.InputFingerprint))

	var err error
	switch a.Type.Kind() {
	case types.ArtifactQuestions:
		err = writeQuestions(&sb, a)
	case types.ArtifactCareerPaths:
		err = writeCareerPaths(&sb, a)
	case types.ArtifactDetailedRoadmap:
		err = writeRoadmap(&sb, a)
	case types.ArtifactTopicAssessment:
		err = writeTopicAssessment(&sb, a)
	case types.ArtifactTopicEvaluation:
		err = writeTopicEvaluation(&sb, a)
	}
	if err != nil {
		fmt.Fprintf(&sb, "(unreadable payload: %v)", err)
	}

	title := strings.ToUpper(strings.ReplaceAll(string(a.Type.Kind()), "_", " "))
	if topic := a.Type.Topic(); topic != "" {
		title += "  " + topic
	}
	p.printBox(title, strings.TrimSuffix(sb.String(), "\n"))
}

func writeQuestions(sb *strings.Builder, a *types.Artifact) error {
	questions, err := a.Questions()
	if err != nil {
		return err
	}
	for _, q := range questions {
		fmt.Fprintf(sb, "%-4s %s\n", q.ID, q.Text)
	}
	return nil
}

func writeCareerPaths(sb *strings.Builder, a *types.Artifact) error {
	paths, err := a.CareerPaths()
	if err != nil {
		return err
	}
	for i, path := range paths {
		fmt.Fprintf(sb, "#%d  %s\n", i+1, path.Title)
		if path.TimeToAchieve != "" || path.AverageSalary != "" {
			fmt.Fprintf(sb, "    %s  %s\n", path.TimeToAchieve, path.AverageSalary)
		}
		if len(path.KeySkillsRequired) > 0 {
			fmt.Fprintf(sb, "    Skills: %s\n", strings.Join(path.KeySkillsRequired, ", "))
		}
		if i < len(paths)-1 {
			sb.WriteString("\n")
		}
	}
	return nil
}

func writeRoadmap(sb *strings.Builder, a *types.Artifact) error {
	roadmap, err := a.DetailedRoadmap()
	if err != nil {
		return err
	}
	fmt.Fprintf(sb, "Career: %s\n", roadmap.CareerTitle)
	for _, phase := range roadmap.HighLevelRoadmap {
		fmt.Fprintf(sb, "\n%s", phase.Phase)
		if phase.Duration != "" {
			fmt.Fprintf(sb, " (%s)", phase.Duration)
		}
		sb.WriteString("\n")
		count := min(len(phase.Topics), maxItemsToShow)
		for _, topic := range phase.Topics[:count] {
			fmt.Fprintf(sb, "  • %s", topic.Topic)
			if n := len(topic.Subtopics); n > 0 {
				fmt.Fprintf(sb, " [%d subtopics]", n)
			}
			sb.WriteString("\n")
		}
		if len(phase.Topics) > maxItemsToShow {
			fmt.Fprintf(sb, "  ... and %d more\n", len(phase.Topics)-maxItemsToShow)
		}
	}
	if len(roadmap.CapstoneProjects) > 0 {
		sb.WriteString("\nCapstones:\n")
		for _, c := range roadmap.CapstoneProjects {
			fmt.Fprintf(sb, "  • %s\n", c.Title)
		}
	}
	return nil
}

func writeTopicAssessment(sb *strings.Builder, a *types.Artifact) error {
	assessment, err := a.TopicAssessment()
	if err != nil {
		return err
	}
	fmt.Fprintf(sb, "Topic: %s (%s)\n\n", assessment.Topic, orDash(assessment.Phase))
	for _, q := range assessment.Questions {
		fmt.Fprintf(sb, "%-4s [%s, %s] %s\n", q.ID, q.Format, q.Difficulty, q.Question)
		for _, opt := range q.Options {
			fmt.Fprintf(sb, "       %s\n", opt)
		}
	}
	return nil
}

func writeTopicEvaluation(sb *strings.Builder, a *types.Artifact) error {
	eval, err := a.TopicEvaluation()
	if err != nil {
		return err
	}
	verdict := "not passed"
	if eval.Passed {
		verdict = "passed"
	}
	fmt.Fprintf(sb, "Topic: %s\n", eval.Topic)
	fmt.Fprintf(sb, "Score: %.2f%% (%s), %d of %d correct\n", eval.Overall, verdict, eval.CorrectAnswers, eval.TotalQuestions)
	fmt.Fprintf(sb, "Intermediate %.2f%%  Advanced %.2f%%  Theory %.2f%%\n", eval.IntermediateScore, eval.AdvancedScore, eval.TheoryScore)
	count := min(len(eval.Summary), maxItemsToShow)
	for _, line := range eval.Summary[:count] {
		fmt.Fprintf(sb, "  • %s\n", line)
	}
	return nil
}

// PrintRoadmapProgress outputs one line per roadmap topic and the totals.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintRoadmapProgress(progress *journey.RoadmapProgress) {
	if progress == nil {
		return
	}
	fmt.Fprintf(p.out, "Career: %s\n", progress.CareerTitle)
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tTOPIC\tSTATUS\tSCORE")
	for _, t := range progress.Topics {
		score := "-"
		if t.Score != nil {
			score = fmt.Sprintf("%.2f", *t.Score)
			if t.Passed {
				score += " passed"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", orDash(t.Phase), t.Topic, t.Status, score)
	}
	tw.Flush()
	fmt.Fprintf(p.out, "Completed %d of %d (%.2f%%), passed %d (%.2f%%), average score %.2f\n",
		progress.Completed, progress.Total, progress.CompletionRate, progress.Passed, progress.PassRate, progress.AverageScore)
}

// PrintArtifactVersions outputs one line per stored version.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintArtifactVersions(versions []types.Artifact) {
	if len(versions) == 0 {
		fmt.Fprintln(p.out, "No versions stored.")
		return
	}
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tGENERATED\tFINGERPRINT\tSTATUS")
	for _, v := range versions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", v.Version, v.GeneratedAt.Format(time.RFC3339), shortFingerprint(v.InputFingerprint), status(&v))
	}
	tw.Flush()
}

// PrintStages outputs the stage graph and the actions available at each stage.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintStages() {
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tSTAGE\tNEXT\tDESCRIPTION")
	for _, st := range types.AllStages() {
		next := make([]string, 0)
		for _, n := range stages.AllowedNext(st) {
			next = append(next, n.String())
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", stages.Order(st), st, orDash(strings.Join(next, ", ")), stages.Describe(st))
	}
	tw.Flush()

	fmt.Fprintln(p.out)
	tw = tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tFROM\tTO\tARTIFACT")
	for _, spec := range stages.Actions() {
		from := make([]string, 0, len(spec.Preconditions))
		for _, st := range spec.Preconditions {
			from = append(from, st.String())
		}
		to := "unchanged"
		if spec.PostStage != 0 {
			to = spec.PostStage.String()
		}
		artifact := "-"
		if spec.Generates() {
			artifact = fmt.Sprintf("%s (%s)", spec.Artifact, spec.Policy)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", spec.Name, strings.Join(from, ", "), to, artifact)
	}
	tw.Flush()
}

func status(a *types.Artifact) string {
	switch {
	case a.InvalidatedAt != nil:
		return "invalidated"
	case a.SupersededAt != nil:
		return "superseded"
	default:
		return "current"
	}
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncate shortens s to width runes, marking the cut with "...".
func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-3]) + "..."
}
