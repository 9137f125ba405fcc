package wordpress

// Rendered is a field the API returns as {raw, rendered}. Raw is only
// present with context=edit.
type Rendered struct {
	Raw      string `json:"raw,omitempty"`
	Rendered string `json:"rendered,omitempty"`
}

// Text returns Raw when available, otherwise Rendered.
func (r Rendered) Text() string {
	if r.Raw != "" {
		return r.Raw
	}
	return r.Rendered
}

// Page is a WordPress page.
type Page struct {
	ID        int      `json:"id"`
	Title     Rendered `json:"title"`
	Content   Rendered `json:"content"`
	Excerpt   Rendered `json:"excerpt"`
	Status    string   `json:"status"`
	Slug      string   `json:"slug"`
	Parent    int      `json:"parent"`
	MenuOrder int      `json:"menu_order"`
	Template  string   `json:"template"`
	Link      string   `json:"link"`
	Modified  string   `json:"modified"`
}

// PageInput is the writable subset of a page. Nil pointers and empty
// strings are left unchanged on update.
type PageInput struct {
	Title     string `json:"title,omitempty"`
	Content   string `json:"content,omitempty"`
	Excerpt   string `json:"excerpt,omitempty"`
	Status    string `json:"status,omitempty"`
	Slug      string `json:"slug,omitempty"`
	Parent    *int   `json:"parent,omitempty"`
	MenuOrder *int   `json:"menu_order,omitempty"`
	Template  string `json:"template,omitempty"`
}

// PageSummary is the compact form returned by listings.
type PageSummary struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
	Slug   string `json:"slug"`
	Parent int    `json:"parent"`
	Link   string `json:"link,omitempty"`
}

// Summary returns the compact form of p.
func (p Page) Summary() PageSummary {
	return PageSummary{ID: p.ID, Title: p.Title.Text(), Status: p.Status, Slug: p.Slug, Parent: p.Parent, Link: p.Link}
}

// ListOptions filters page listings.
type ListOptions struct {
	Search  string
	Status  string
	Parent  *int
	PerPage int
	Page    int
}

// ReusableBlock is a synced pattern (wp_block post).
type ReusableBlock struct {
	ID      int      `json:"id"`
	Title   Rendered `json:"title"`
	Content Rendered `json:"content"`
	Status  string   `json:"status"`
}

// BlockType is a registered block's schema.
type BlockType struct {
	Name        string         `json:"name"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Attributes  map[string]any `json:"attributes"`
	Supports    map[string]any `json:"supports,omitempty"`
	Parent      []string       `json:"parent,omitempty"`
	Styles      []BlockStyle   `json:"styles,omitempty"`
}

// BlockStyle is a named style variation of a block.
type BlockStyle struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	IsDefault bool   `json:"isDefault,omitempty"`
}

// BlockTypeSummary is the compact form returned by listings.
type BlockTypeSummary struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	Category string `json:"category"`
}

// GlobalStyles holds theme.json-shaped user styles for the active theme.
type GlobalStyles struct {
	ID       int            `json:"id"`
	Settings map[string]any `json:"settings,omitempty"`
	Styles   map[string]any `json:"styles,omitempty"`
}

// SiteInfo describes the site from the REST API index.
type SiteInfo struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	URL            string   `json:"url"`
	Home           string   `json:"home"`
	TimezoneString string   `json:"timezone_string"`
	Namespaces     []string `json:"namespaces,omitempty"`
}

// NavigationMenu is a wp_navigation post.
type NavigationMenu struct {
	ID      int      `json:"id"`
	Title   Rendered `json:"title"`
	Content Rendered `json:"content"`
	Status  string   `json:"status"`
}

// Template is a block theme template.
type Template struct {
	ID          string   `json:"id"`
	Slug        string   `json:"slug"`
	Theme       string   `json:"theme"`
	Type        string   `json:"type"`
	Source      string   `json:"source"`
	Title       Rendered `json:"title"`
	Description string   `json:"description"`
}

// PageNode is a page with its children, for site hierarchy views.
type PageNode struct {
	PageSummary
	Children []*PageNode `json:"children,omitempty"`
}
