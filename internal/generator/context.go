package generator

import "github.com/josh5210/writefully/internal/model"

// PageContext carries what a stage executor may know about the surrounding
// story: the story plan, the current page's plan, and the full text of up to
// the two most recently completed pages. Older pages are represented only
// through the story plan, which bounds request size.
type PageContext struct {
	StoryPlan       string
	PageIndex       int
	CurrentPagePlan string
	RecentPages     []model.PageContent
}

// MaxRecentPages bounds how many previous pages are included verbatim.
const MaxRecentPages = 2
