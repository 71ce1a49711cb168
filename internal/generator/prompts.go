package generator

import (
	"fmt"
	"strings"

	"github.com/josh5210/writefully/internal/model"
)

// Target page length the prompts steer the model toward.
const targetPageChars = 2000

// promptBuilder constructs the system and user prompts each stage sends to
// the generation service.
type promptBuilder struct{}

func (promptBuilder) storyPlannerSystemPrompt(req model.StoryRequest) string {
	var b strings.Builder
	b.WriteString("You are a master story architect and planner. You will be provided a topic for an original story. ")
	b.WriteString("Your task is to create a detailed story plan that will serve as the blueprint for an AI writer that will generate the story.")

	if req.AuthorStyle != "" {
		fmt.Fprintf(&b, "\n\nImportantly, the story must be written in the style of %s. Consider how they would approach planning the story.", req.AuthorStyle)
	}

	b.WriteString("\n\nBrainstorm the basis of a compelling narrative arc with beginning, middle, and end.\n\n")
	b.WriteString("Your plan should include detailed descriptions of:\n")
	b.WriteString("- Key events and plot developments\n- Key characters and their character traits\n- Key settings\n- Emotional beats and tone")

	fmt.Fprintf(&b, "\n\nPlan for the final story to be approximately %d pages long.", req.Pages)
	return b.String()
}

func (promptBuilder) storyPlannerUserPrompt(req model.StoryRequest) string {
	userPrompt := fmt.Sprintf(`Create a detailed plan for writing a story on the topic of """%s"""`, req.Topic)
	if req.AuthorStyle != "" {
		userPrompt += fmt.Sprintf(" in the literary style of %s", req.AuthorStyle)
	}
	return userPrompt + "."
}

func (promptBuilder) pagePlannerSystemPrompt(req model.StoryRequest, pctx PageContext) string {
	pageNumber := pctx.PageIndex + 1
	var b strings.Builder
	fmt.Fprintf(&b, "You are a skilled story page planner. Your task is to create a detailed plan for page %d of a %d-page story.\n\n", pageNumber, req.Pages)
	b.WriteString("You will be provided with the overall story plan, the topic of the story, and the page number you need to plan.\n\n")
	b.WriteString("Your page plan will serve as a detailed blueprint for the writer that will generate this specific page.")

	if req.AuthorStyle != "" {
		fmt.Fprintf(&b, "\n\nKeep in mind that the story will be written in the style of %s, so consider how this affects what events or elements should appear on this page.", req.AuthorStyle)
	}

	b.WriteString("\n\nA good page plan should include:\n")
	b.WriteString("- Specific events, actions, and dialogue that will occur on this page\n")
	b.WriteString("- Description of the setting for this page\n")
	b.WriteString("- Character emotions and developments\n")
	b.WriteString("- Key revelations or plot advancements\n")
	b.WriteString("- Transitions from previous pages and into subsequent pages\n\n")
	fmt.Fprintf(&b, "The plan should contain content to produce a %d character page (~300-400 words) while itself being concise (aim for 100 words or less).\n", targetPageChars)
	fmt.Fprintf(&b, "Most importantly, ensure your plan fits logically within the larger story structure. Page %d must continue naturally from previous pages and set up what follows in a coherent way.", pageNumber)
	return b.String()
}

func (promptBuilder) pagePlannerUserPrompt(req model.StoryRequest, pctx PageContext) string {
	pageNumber := pctx.PageIndex + 1
	var b strings.Builder
	fmt.Fprintf(&b, "Please create a detailed plan for page %d of a %d-page story about %q", pageNumber, req.Pages, req.Topic)
	if req.AuthorStyle != "" {
		fmt.Fprintf(&b, " in the style of %s", req.AuthorStyle)
	}
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "OVERALL STORY PLAN:\n%s\n\n", pctx.StoryPlan)
	fmt.Fprintf(&b, "Please provide a specific, detailed plan for what should happen on page %d. ", pageNumber)
	b.WriteString("Include key events, character actions, dialogue points, setting details, and emotional beats. ")
	b.WriteString("Concisely outline the elements that should appear on this page.")
	return b.String()
}

func (promptBuilder) writerSystemPrompt(req model.StoryRequest, pctx PageContext) string {
	pageNumber := pctx.PageIndex + 1
	var b strings.Builder
	fmt.Fprintf(&b, "You are a masterful creative writer tasked with generating high-quality, original content. You will be writing a story about %q.", req.Topic)

	if req.AuthorStyle != "" {
		fmt.Fprintf(&b, "\n\nImportant: You must write in the style of %s. Capture the essence of their writing style, including:\n", req.AuthorStyle)
		b.WriteString("- Typical sentence structure and paragraph organization\n")
		b.WriteString("- Voice and tone characteristics\n")
		b.WriteString("- Common themes or motifs\n")
		b.WriteString("- Characteristic literary devices\n")
		b.WriteString("- Vocabulary choices and linguistic patterns")
	}

	fmt.Fprintf(&b, "\n\nYou will be writing page %d of a %d page story. ", pageNumber, req.Pages)
	b.WriteString("You will be provided with an overall story plan, a specific plan for this page, and the full content of up to the two previous pages, if available.\n\n")
	fmt.Fprintf(&b, "Write ONLY the content for page %d, approximately %d characters (~300-400 words).\n\n", pageNumber, targetPageChars)
	b.WriteString("Focus on:\n- Following the page plan exactly\n- Maintaining narrative consistency with previous pages\n- Creating engaging, vivid prose\n\n")
	b.WriteString(`Do not include "Page X" headers or any meta-commentary. Write only the story content.`)
	return b.String()
}

func (promptBuilder) writerUserPrompt(req model.StoryRequest, pctx PageContext) string {
	pageNumber := pctx.PageIndex + 1
	var b strings.Builder
	fmt.Fprintf(&b, "Write page %d of a %d-page story.", pageNumber, req.Pages)
	fmt.Fprintf(&b, "\n\nSTORY TOPIC: %q.", req.Topic)
	if req.AuthorStyle != "" {
		fmt.Fprintf(&b, "\n\nImportant: write in the style of %s.", req.AuthorStyle)
	}
	fmt.Fprintf(&b, "\n\nOVERALL STORY PLAN:\n%s\n\n", pctx.StoryPlan)
	fmt.Fprintf(&b, "PLAN FOR PAGE %d:\n%s\n\n", pageNumber, pctx.CurrentPagePlan)

	for idx, prevPage := range pctx.RecentPages {
		prevPageNumber := pageNumber - len(pctx.RecentPages) + idx
		fmt.Fprintf(&b, "CONTENT OF PAGE %d:\n%s\n\n", prevPageNumber, prevPage.Text)
	}

	b.WriteString("Please write ONLY the content specified. Do not include a page header, summary, or any comments - write pure story content.")
	return b.String()
}

func (promptBuilder) criticSystemPrompt(req model.StoryRequest, pctx PageContext) string {
	var b strings.Builder
	b.WriteString("You are an exceptionally demanding literary critic with expert knowledge of various writing styles and genres. ")
	b.WriteString("Your task is to evaluate a piece of writing and provide specific, constructive feedback.\n\n")
	b.WriteString("You should be generous with your critique but sparing with your praise. Reserve your highest approval only for truly exceptional work.")

	if req.AuthorStyle != "" {
		fmt.Fprintf(&b, "\n\nScrutinize how well the writing captures the style of %s. Merely referencing the author is not enough; the writing must genuinely capture their essence.", req.AuthorStyle)
	}

	fmt.Fprintf(&b, "\n\nYou are evaluating page %d of a %d-page story. Pay special attention to:\n", pctx.PageIndex+1, req.Pages)
	b.WriteString("- How well the page follows its intended plan\n")
	b.WriteString("- Narrative consistency with previous pages\n")
	b.WriteString("- Appropriate pacing for this stage of the story\n\n")
	b.WriteString("Identify at least 3-5 substantive areas for improvement, even in good writing. ")
	b.WriteString("ALWAYS provide concrete examples from the text to illustrate your points. ")
	b.WriteString(`At the end of your critique, include a "Revision Priorities" section with at least 3 bullet points listing the most important improvements needed.`)
	return b.String()
}

func (promptBuilder) criticUserPrompt(content string, req model.StoryRequest, pctx PageContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Please evaluate the following content for page %d of a %d-page story", pctx.PageIndex+1, req.Pages)
	if req.AuthorStyle != "" {
		fmt.Fprintf(&b, " that was written to be in the style of %s", req.AuthorStyle)
	}
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "STORY PLAN: %s\n\n", pctx.StoryPlan)
	fmt.Fprintf(&b, "PLAN FOR THIS PAGE: %s\n\n", pctx.CurrentPagePlan)
	fmt.Fprintf(&b, "TARGET LENGTH: Approximately %d characters (current length: %d characters)\n\n", targetPageChars, len(content))
	b.WriteString("Provide a detailed critique addressing style and voice, content and storytelling, structure and pacing, language and mechanics, and overall assessment.\n\n")
	fmt.Fprintf(&b, "Here's the text to evaluate:\n\n\"\"\"%s\"\"\"", content)
	return b.String()
}

func (promptBuilder) editorSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a master editor with exceptional skill in transforming good writing into excellent writing. ")
	b.WriteString("Your task is to significantly improve the text provided to you.\n\nFocus on:\n\n")
	b.WriteString("1. Structural improvements: reorganize content for optimal flow and impact\n")
	b.WriteString("2. Stylistic refinement: ensure the voice is consistent and powerful\n")
	b.WriteString("3. Narrative strengthening: deepen character development and thematic elements\n")
	b.WriteString("4. Language precision: replace generic wording with vivid, specific language\n")
	b.WriteString("5. Eliminating weaknesses: fix all issues highlighted by the critique provided to you\n")
	b.WriteString("6. Amplifying strengths: identify what works well and enhance it further\n\n")
	b.WriteString("Make bold, substantive improvements. Don't just fix surface issues - transform the text to elevate its quality significantly.\n\n")
	b.WriteString("Respond with only the revised text, with no preamble or commentary.")
	return b.String()
}

func (promptBuilder) editorUserPrompt(content, critique string, req model.StoryRequest, pctx PageContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your task is to substantially improve the following content for page %d of a %d-page story", pctx.PageIndex+1, req.Pages)
	if req.AuthorStyle != "" {
		fmt.Fprintf(&b, " written in the style of %s", req.AuthorStyle)
	}
	fmt.Fprintf(&b, " on the topic of %q. Focus on enhancing the quality while preserving the style and intent.\n\n", req.Topic)
	fmt.Fprintf(&b, "PLAN FOR THIS PAGE:\n%s\n\n", pctx.CurrentPagePlan)
	fmt.Fprintf(&b, "TARGET LENGTH: Approximately %d characters (current length: %d characters)\n\n", targetPageChars, len(content))
	if critique != "" {
		fmt.Fprintf(&b, "CRITIQUE OF THE DRAFT:\n%s\n\n", critique)
	}
	fmt.Fprintf(&b, "TEXT TO REVISE:\n\n\"\"\"%s\"\"\"", content)
	return b.String()
}
