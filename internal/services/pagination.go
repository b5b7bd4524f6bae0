package services

const (
	DefaultPageSize = 12
	MaxPageSize     = 100
)

// Page is the pagination part of list inputs. Zero values take the defaults.
type Page struct {
	Page     int `json:"page" form:"page" binding:"omitempty,min=1"`
	PageSize int `json:"pageSize" form:"pageSize" binding:"omitempty,min=1,max=100"`
}

func (p Page) normalize() (page, size int) {
	page, size = p.Page, p.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// TotalPages is ceil(total/pageSize), never less than 1.
func TotalPages(total int64, pageSize int) int {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	pages := int((total + int64(pageSize) - 1) / int64(pageSize))
	if pages < 1 {
		pages = 1
	}
	return pages
}

// BatchFailure names an id a batch operation could not process.
type BatchFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BatchResult reports each id of a batch operation as succeeded or failed.
type BatchResult struct {
	Succeeded []string       `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

func newBatchResult() *BatchResult {
	return &BatchResult{Succeeded: []string{}, Failed: []BatchFailure{}}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
