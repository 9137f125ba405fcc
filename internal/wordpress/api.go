package wordpress

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ListPages returns pages matching opts.
func (c *Client) ListPages(ctx context.Context, opts ListOptions) ([]Page, error) {
	perPage := opts.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}
	params := map[string]string{
		"context":  "edit",
		"per_page": strconv.Itoa(perPage),
		"search":   opts.Search,
		"status":   opts.Status,
		"orderby":  "menu_order",
		"order":    "asc",
	}
	if opts.Page > 0 {
		params["page"] = strconv.Itoa(opts.Page)
	}
	if opts.Parent != nil {
		params["parent"] = strconv.Itoa(*opts.Parent)
	}
	var pages []Page
	if err := c.do(ctx, http.MethodGet, "/wp/v2/pages"+query(params), nil, &pages); err != nil {
		return nil, err
	}
	return pages, nil
}

// GetPage returns a page with raw block markup.
func (c *Client) GetPage(ctx context.Context, id int) (*Page, error) {
	var p Page
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/wp/v2/pages/%d?context=edit", id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePage creates a page. Status defaults to draft.
func (c *Client) CreatePage(ctx context.Context, in PageInput) (*Page, error) {
	if in.Status == "" {
		in.Status = "draft"
	}
	var p Page
	if err := c.do(ctx, http.MethodPost, "/wp/v2/pages", in, &p); err != nil {
		return nil, err
	}
	c.logger.Info("page created", "page_id", p.ID, "status", p.Status)
	return &p, nil
}

// UpdatePage applies the non-empty fields of in to page id.
func (c *Client) UpdatePage(ctx context.Context, id int, in PageInput) (*Page, error) {
	var p Page
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/wp/v2/pages/%d", id), in, &p); err != nil {
		return nil, err
	}
	c.logger.Info("page updated", "page_id", p.ID)
	return &p, nil
}

// DeletePage moves a page to the trash, or deletes it permanently when
// force is set.
func (c *Client) DeletePage(ctx context.Context, id int, force bool) error {
	path := fmt.Sprintf("/wp/v2/pages/%d", id)
	if force {
		path += "?force=true"
	}
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return err
	}
	c.logger.Info("page deleted", "page_id", id, "force", force)
	return nil
}

// AllPages walks every page in the site, up to maxPages API pages of 100.
func (c *Client) AllPages(ctx context.Context) ([]Page, error) {
	const maxPages = 10
	var all []Page
	for n := 1; n <= maxPages; n++ {
		batch, err := c.ListPages(ctx, ListOptions{PerPage: 100, Page: n, Status: "publish,draft,private,pending"})
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < 100 {
			break
		}
	}
	return all, nil
}

// PageTree returns the page hierarchy rooted at top-level pages.
func (c *Client) PageTree(ctx context.Context) ([]*PageNode, error) {
	pages, err := c.AllPages(ctx)
	if err != nil {
		return nil, err
	}
	return buildTree(pages), nil
}

func buildTree(pages []Page) []*PageNode {
	nodes := make(map[int]*PageNode, len(pages))
	for _, p := range pages {
		nodes[p.ID] = &PageNode{PageSummary: p.Summary()}
	}
	var roots []*PageNode
	for _, p := range pages {
		n := nodes[p.ID]
		if parent, ok := nodes[p.Parent]; ok && p.Parent != 0 {
			parent.Children = append(parent.Children, n)
		} else {
			roots = append(roots, n)
		}
	}
	return roots
}

// ListReusableBlocks returns synced patterns.
func (c *Client) ListReusableBlocks(ctx context.Context, search string) ([]ReusableBlock, error) {
	var blocks []ReusableBlock
	path := "/wp/v2/blocks" + query(map[string]string{"context": "edit", "per_page": "50", "search": search})
	if err := c.do(ctx, http.MethodGet, path, nil, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// GetReusableBlock returns one synced pattern.
func (c *Client) GetReusableBlock(ctx context.Context, id int) (*ReusableBlock, error) {
	var b ReusableBlock
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/wp/v2/blocks/%d?context=edit", id), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateReusableBlock creates a published synced pattern.
func (c *Client) CreateReusableBlock(ctx context.Context, title, content string) (*ReusableBlock, error) {
	var b ReusableBlock
	in := map[string]string{"title": title, "content": content, "status": "publish"}
	if err := c.do(ctx, http.MethodPost, "/wp/v2/blocks", in, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBlockTypes returns registered block types, optionally limited to
// a namespace such as "core".
func (c *Client) ListBlockTypes(ctx context.Context, namespace string) ([]BlockTypeSummary, error) {
	key := namespace
	if key == "" {
		key = "*"
	}
	return cached(ctx, c, nsBlockTypes, "list:"+key, func() ([]BlockTypeSummary, error) {
		var types []BlockType
		if err := c.do(ctx, http.MethodGet, "/wp/v2/block-types"+query(map[string]string{"namespace": namespace}), nil, &types); err != nil {
			return nil, err
		}
		out := make([]BlockTypeSummary, len(types))
		for i, t := range types {
			out[i] = BlockTypeSummary{Name: t.Name, Title: t.Title, Category: t.Category}
		}
		return out, nil
	})
}

// GetBlockType returns the schema of a block, e.g. "core/heading".
func (c *Client) GetBlockType(ctx context.Context, name string) (*BlockType, error) {
	ns, block, ok := strings.Cut(name, "/")
	if !ok || ns == "" || block == "" {
		return nil, fmt.Errorf("block name %q must be namespace/name", name)
	}
	return cached(ctx, c, nsBlockTypes, name, func() (*BlockType, error) {
		var t BlockType
		path := "/wp/v2/block-types/" + url.PathEscape(ns) + "/" + url.PathEscape(block)
		if err := c.do(ctx, http.MethodGet, path, nil, &t); err != nil {
			return nil, err
		}
		return &t, nil
	})
}

type themeLinks struct {
	Stylesheet string `json:"stylesheet"`
	Links      map[string][]struct {
		Href string `json:"href"`
	} `json:"_links"`
}

// globalStylesID finds the user global-styles post of the active theme.
func (c *Client) globalStylesID(ctx context.Context) (int, error) {
	var themes []themeLinks
	if err := c.do(ctx, http.MethodGet, "/wp/v2/themes?status=active", nil, &themes); err != nil {
		return 0, err
	}
	if len(themes) == 0 {
		return 0, fmt.Errorf("no active theme reported")
	}
	links := themes[0].Links["wp:user-global-styles"]
	if len(links) == 0 {
		return 0, fmt.Errorf("active theme %q does not support global styles", themes[0].Stylesheet)
	}
	href := strings.TrimRight(links[0].Href, "/")
	id, err := strconv.Atoi(href[strings.LastIndex(href, "/")+1:])
	if err != nil {
		return 0, fmt.Errorf("parse global styles link %q: %w", href, err)
	}
	return id, nil
}

// GetGlobalStyles returns the active theme's user global styles.
func (c *Client) GetGlobalStyles(ctx context.Context) (*GlobalStyles, error) {
	return cached(ctx, c, nsGlobalStyles, "active", func() (*GlobalStyles, error) {
		id, err := c.globalStylesID(ctx)
		if err != nil {
			return nil, err
		}
		var gs GlobalStyles
		if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/wp/v2/global-styles/%d?context=edit", id), nil, &gs); err != nil {
			return nil, err
		}
		return &gs, nil
	})
}

// UpdateGlobalStyles merges styles and settings into the active theme's
// user global styles.
func (c *Client) UpdateGlobalStyles(ctx context.Context, styles, settings map[string]any) (*GlobalStyles, error) {
	id, err := c.globalStylesID(ctx)
	if err != nil {
		return nil, err
	}
	body := map[string]any{}
	if styles != nil {
		body["styles"] = styles
	}
	if settings != nil {
		body["settings"] = settings
	}
	var gs GlobalStyles
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/wp/v2/global-styles/%d", id), body, &gs); err != nil {
		return nil, err
	}
	c.invalidate(ctx, nsGlobalStyles, "active")
	return &gs, nil
}

// GetSiteInfo returns site metadata from the REST API index.
func (c *Client) GetSiteInfo(ctx context.Context) (*SiteInfo, error) {
	return cached(ctx, c, nsSite, "info", func() (*SiteInfo, error) {
		var info SiteInfo
		if err := c.do(ctx, http.MethodGet, "/", nil, &info); err != nil {
			return nil, err
		}
		return &info, nil
	})
}

// ListNavigation returns navigation menus.
func (c *Client) ListNavigation(ctx context.Context) ([]NavigationMenu, error) {
	var menus []NavigationMenu
	if err := c.do(ctx, http.MethodGet, "/wp/v2/navigation?context=edit&per_page=50", nil, &menus); err != nil {
		return nil, err
	}
	return menus, nil
}

// ListTemplates returns the active theme's block templates.
func (c *Client) ListTemplates(ctx context.Context) ([]Template, error) {
	var templates []Template
	if err := c.do(ctx, http.MethodGet, "/wp/v2/templates", nil, &templates); err != nil {
		return nil, err
	}
	return templates, nil
}
