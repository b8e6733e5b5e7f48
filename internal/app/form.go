package app

import (
	"fmt"
	"strconv"
	"strings"

	"bookwatch-tui/internal/service"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	fieldTitle = iota
	fieldAudience
	fieldCategory
	fieldStyle
	fieldChapters
	fieldLength
	fieldLanguage
	fieldFormats
	fieldRequirements
	fieldCount
)

var fieldLabels = [fieldCount]string{
	"Title",
	"Target audience",
	"Category",
	"Writing style",
	"Chapters",
	"Target length",
	"Language",
	"Output formats",
	"Requirements",
}

// createForm edits a CreateBookRequest. The last field is a textarea, the
// rest are single-line inputs.
type createForm struct {
	inputs       []textinput.Model
	requirements textarea.Model
	focus        int
}

func newCreateForm() createForm {
	defaults := service.NewCreateBookRequest("", "")
	values := []string{
		"",
		"",
		defaults.Category,
		defaults.WritingStyle,
		strconv.Itoa(defaults.ChapterCount),
		strconv.Itoa(defaults.TargetLength),
		defaults.Language,
		strings.Join(defaults.OutputFormats, ","),
	}
	placeholders := []string{
		"The Practical Guide to...",
		"beginners, professionals, ...",
		strings.Join(service.Categories, "|"),
		strings.Join(service.WritingStyles, "|"),
		"3-20",
		"5000-50000, step 1000",
		strings.Join(service.Languages, "|"),
		strings.Join(service.DownloadFormats, ","),
	}

	inputs := make([]textinput.Model, len(values))
	for i := range values {
		input := textinput.New()
		input.Prompt = "> "
		input.CharLimit = 200
		input.Width = 40
		input.Placeholder = placeholders[i]
		input.SetValue(values[i])
		inputs[i] = input
	}

	requirements := textarea.New()
	requirements.Prompt = ""
	requirements.ShowLineNumbers = false
	requirements.CharLimit = 4000
	requirements.Placeholder = "Optional extra instructions"
	requirements.SetWidth(44)
	requirements.SetHeight(3)

	return createForm{inputs: inputs, requirements: requirements}
}

// focusField moves focus to index i, wrapping around.
func (f *createForm) focusField(i int) tea.Cmd {
	f.focus = ((i % fieldCount) + fieldCount) % fieldCount
	f.blur()
	if f.focus == fieldRequirements {
		return f.requirements.Focus()
	}
	return f.inputs[f.focus].Focus()
}

func (f *createForm) blur() {
	for i := range f.inputs {
		f.inputs[i].Blur()
	}
	f.requirements.Blur()
}

// reset clears the free-text fields and keeps the chosen options.
func (f *createForm) reset() {
	f.inputs[fieldTitle].SetValue("")
	f.inputs[fieldAudience].SetValue("")
	f.requirements.SetValue("")
	f.focus = fieldTitle
}

func (f createForm) update(msg tea.Msg) (createForm, tea.Cmd) {
	var cmd tea.Cmd
	if f.focus == fieldRequirements {
		f.requirements, cmd = f.requirements.Update(msg)
		return f, cmd
	}
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return f, cmd
}

// request builds the payload. Unparsable numbers are reported the same way
// as validation failures.
func (f createForm) request() (service.CreateBookRequest, error) {
	value := func(i int) string {
		return strings.TrimSpace(f.inputs[i].Value())
	}

	fields := map[string]string{}
	chapters, err := strconv.Atoi(value(fieldChapters))
	if err != nil {
		fields["chapter_count"] = "The field 'chapter_count' must be a whole number."
	}
	length, err := strconv.Atoi(value(fieldLength))
	if err != nil {
		fields["target_length"] = "The field 'target_length' must be a whole number."
	}
	if len(fields) > 0 {
		return service.CreateBookRequest{}, &service.ValidationError{Fields: fields}
	}

	formats := []string{}
	for _, part := range strings.Split(value(fieldFormats), ",") {
		if part = strings.TrimSpace(part); part != "" {
			formats = append(formats, part)
		}
	}

	return service.CreateBookRequest{
		Title:              value(fieldTitle),
		Category:           value(fieldCategory),
		TargetAudience:     value(fieldAudience),
		WritingStyle:       value(fieldStyle),
		ChapterCount:       chapters,
		TargetLength:       length,
		Language:           value(fieldLanguage),
		CustomRequirements: f.requirements.Value(),
		OutputFormats:      formats,
	}, nil
}

func (f createForm) view() string {
	lines := make([]string, 0, fieldCount+4)
	for i, input := range f.inputs {
		label := fmt.Sprintf("%-16s", fieldLabels[i])
		if i == f.focus {
			label = statusStyle.Render(label)
		} else {
			label = mutedTextStyle(label)
		}
		lines = append(lines, label+" "+input.View())
	}
	label := fieldLabels[fieldRequirements]
	if f.focus == fieldRequirements {
		label = statusStyle.Render(label)
	} else {
		label = mutedTextStyle(label)
	}
	lines = append(lines, label, f.requirements.View(), "", mutedTextStyle("tab next | shift+tab previous | ctrl+s submit | esc close"))
	return strings.Join(lines, "\n")
}
