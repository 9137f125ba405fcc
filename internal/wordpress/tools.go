package wordpress

import (
	"context"
	"fmt"

	"github.com/nugget/blockwright/internal/tools"
)

// Catalog names.
const (
	CatalogContent = "content"
	CatalogSite    = "site"
)

// ContentTools returns tools that read and write pages, synced
// patterns, block schemas and theme styles.
func ContentTools(c *Client) []*tools.Tool {
	return []*tools.Tool{
		{
			Name:        "list_pages",
			Description: "List pages on the site. Returns id, title, status, slug and parent for each page.",
			Catalog:     CatalogContent,
			InputSchema: tools.Object(map[string]any{
				"search":   tools.StringProp("Optional text to search for in titles and content"),
				"status":   tools.EnumProp("Optional status filter", "publish", "draft", "pending", "private"),
				"parent":   tools.IntProp("Optional parent page ID; 0 lists top-level pages"),
				"per_page": tools.IntProp("Maximum results (default 20, max 100)"),
			}),
			Handler: func(ctx context.Context, args map[string]any) (tools.Outcome, error) {
				opts := ListOptions{Search: tools.StringArg(args, "search"), Status: tools.StringArg(args, "status")}
				var err error
				if opts.PerPage, err = tools.IntArg(args, "per_page", 20); err != nil {
					return nil, err
				}
				if _, ok := args["parent"]; ok {
					parent, err := tools.IntArg(args, "parent", 0)
					if err != nil {
						return nil, err
					}
					opts.Parent = &parent
				}
				pages, err := c.ListPages(ctx, opts)
				if err != nil {
					return nil, err
				}
				out := make([]PageSummary, len(pages))
				for i, p := range pages {
					out[i] = p.Summary()
				}
				return tools.Value(out), nil
			},
		},
		{
			Name:        "get_page",
			Description: "Get a page including its raw block markup. Use before editing an existing page.",
			Catalog:     CatalogContent,
			InputSchema: tools.Object(map[string]any{
				"id": tools.IntProp("Page ID"),
			}, "id"),
			Handler: func(ctx context.Context, args map[string]any) (tools.Outcome, error) {
				id, err := tools.IntArg(args, "id", 0)
				if err != nil {
					return nil, err
				}
				p, err := c.GetPage(ctx, id)
				if err != nil {
					return nil, err
				}
				return tools.Value(map[string]any{
					"id":       p.ID,
					"title":    p.Title.Text(),
					"status":   p.Status,
					"slug":     p.Slug,
					"parent":   p.Parent,
					"template": p.Template,
					"link":     p.Link,
					"content":  p.Content.Text(),
					"outline":  Analyze(p.Content.Text()),
				}), nil
			},
		},
		{
			Name: "create_page",
			Description: "Create a new page. Content is block markup by default; set format to markdown to " +
				"have it converted to native blocks. New pages are drafts unless status says otherwise.",
			Catalog: CatalogContent,
			InputSchema: tools.Object(map[string]any{
				"title":    tools.StringProp("Page title"),
				"content":  tools.StringProp("Page content"),
				"format":   tools.EnumProp("Content format (default blocks)", "blocks", "markdown"),
				"status":   tools.EnumProp("Publication status (default draft)", "draft", "publish", "pending", "private"),
				"slug":     tools.StringProp("Optional URL slug"),
				"parent":   tools.IntProp("Optional parent page ID"),
				"template": tools.StringProp("Optional template slug"),
			}, "title"),
			Handler: func(ctx context.Context, args map[string]any) (tools.Outcome, error) {
				in, err := pageInput(args)
				if err != nil {
					return nil, err
				}
				p, err := c.CreatePage(ctx, in)
				if err != nil {
					return nil, err
				}
				return tools.Value(p.Summary()), nil
			},
		},
		{
			Name:        "update_page",
			Description: "Update an existing page. Only the fields provided are changed; content replaces the whole body.",
			Catalog:     CatalogContent,
			InputSchema: tools.Object(map[string]any{
				"id":       tools.IntProp("Page ID"),
				"title":    tools.StringProp("New title"),
				"content":  tools.StringProp("New content"),
				"format":   tools.EnumProp("Content format (default blocks)", "blocks", "markdown"),
				"status":   tools.EnumProp("New status", "draft", "publish", "pending", "private"),
				"slug":     tools.StringProp("New URL slug"),
				"parent":   tools.IntProp("New parent page ID"),
				"template": tools.StringProp("New template slug"),
			}, "id"),
			Handler: func(ctx context.Context, args map[string]any) (tools.Outcome, error) {
				id, err := tools.IntArg(args, "id", 0)
				if err != nil {
					return nil, err
				}
				in, err := pageInput(args)
				if err != nil {
					return nil, err
				}
				p, err := c.UpdatePage(ctx, id, in)
				if err != nil {
					return nil, err
				}
				return tools.Value(p.Summary()), nil
			},
		},
		{
			Name:        "delete_page",
			Description: "Move a page to the trash. Set force to delete permanently.",
			Catalog:     CatalogContent,
			InputSchema: tools.Object(map[string]any{
				"id":    tools.IntProp("Page ID"),
				"force": tools.BoolProp("Skip the trash and delete permanently"),
			}, "id"),
			Handler: func(ctx context.Context, args map[string]any) (tools.Outcome, error) {
				id, err := tools.IntArg(args, "id", 0)
				if err != nil {
					return nil, err
				}
				force := tools.BoolArg(args, "force", false)
				if err := c.DeletePage(ctx, id, force); err != nil {
					return nil, err
				}
				return tools.Value(map[string]any{"deleted": true, "id": id, "permanent": force}), nil
			},
		},
		{
			Name:        "list_reusable_blocks",
			Description: "List synced patterns (reusable blocks) that can be inserted with a core/block reference.",
			Catalog:     CatalogContent,
			InputSchema: tools.Object(map[string]any{
				"search": tools.StringProp("Optional title search"),
			}),
			Handler: func(ctx context.Context, args map[string]any) (tools.Outcome, error) {
				blocks, err := c.ListReusableBlocks(ctx, tools.StringArg(args, "search"))
				if err != nil {
					return nil, err
				}
				out := make([]map[string]any, len(blocks))
				for i, b := range blocks {
					out[i] = map[string]any{"id": b.ID, "title": b.Title.Text(), "status": b.Status}
				}
				return tools.Value(out), nil
			},
		},
		{
			Name:        "create_reusable_block",
			Description: "Save block markup as a synced pattern for reuse across pages.",
			Catalog:     CatalogContent,
			InputSchema: tools.Object(map[string]any{
				"title":   tools.StringProp("Pattern title"),
				"content": tools.StringProp("Block markup"),
			}, "title", "content"),
			Handler: func(ctx context.Context, args map[string]any) (tools.Outcome, error) {
				b, err := c.CreateReusableBlock(ctx, tools.StringArg(args, "title"), tools.StringArg(args, "content"))
				if err != nil {
					return nil, err
				}
				return tools.Value(map[string]any{"id": b.ID, "title": b.Title.Text(), "ref": fmt.Sprintf(`<!-- wp:block {"ref":%d} /-->`, b.ID)}), nil
			},
		},
		{
			Name:        "list_block_types",
			Description: "List registered block types. Use a namespace such as core to narrow the list.",
			Catalog:     CatalogContent,
			InputSchema: tools.Object(map[string]any{
				"namespace": tools.StringProp("Optional block namespace, e.g. core"),
			}),
			Handler: func(ctx context.Context, args map[string]any) (tools.Outcome, error) {
				types, err := c.ListBlockTypes(ctx, tools.StringArg(args, "namespace"))
				if err != nil {
					return nil, err
				}
				return tools.Value(types), nil
			},
		},
		{
			Name:        "get_block_schema",
			Description: "Get the attribute schema, supports and style variations of a block type before inserting or updating it.",
			Catalog:     CatalogContent,
			InputSchema: tools.Object(map[string]any{
				"name": tools.StringProp("Block name, e.g. core/heading"),
			}, "name"),
			Handler: func(ctx context.Context, args map[string]any) (tools.Outcome, error) {
				t, err := c.GetBlockType(ctx, tools.StringArg(args, "name"))
				if err != nil {
					return nil, err
				}
				return tools.Value(t), nil
			},
		},
		{
			Name:        "get_theme_styles",
			Description: "Get the active theme's global styles (colors, typography, spacing) as theme.json-shaped data.",
			Catalog:     CatalogContent,
			InputSchema: tools.Object(map[string]any{}),
			Handler: func(ctx context.Context, args map[string]any) (tools.Outcome, error) {
				gs, err := c.GetGlobalStyles(ctx)
				if err != nil {
					return nil, err
				}
				return tools.Value(gs), nil
			},
		},
		{
			Name:        "update_theme_styles",
			Description: "Update the active theme's global styles. Provide theme.json-shaped styles and/or settings objects.",
			Catalog:     CatalogContent,
			InputSchema: tools.Object(map[string]any{
				"styles":   tools.ObjectProp("theme.json styles object"),
				"settings": tools.ObjectProp("theme.json settings object"),
			}),
			Handler: func(ctx context.Context, args map[string]any) (tools.Outcome, error) {
				styles, settings := tools.MapArg(args, "styles"), tools.MapArg(args, "settings")
				if styles == nil && settings == nil {
					return nil, fmt.Errorf("styles or settings is required")
				}
				gs, err := c.UpdateGlobalStyles(ctx, styles, settings)
				if err != nil {
					return nil, err
				}
				return tools.Value(gs), nil
			},
		},
	}
}

// SiteTools returns tools that describe site structure.
func SiteTools(c *Client) []*tools.Tool {
	return []*tools.Tool{
		{
			Name:        "get_site_info",
			Description: "Get the site name, tagline, URL and timezone.",
			Catalog:     CatalogSite,
			InputSchema: tools.Object(map[string]any{}),
			Handler: func(ctx context.Context, args map[string]any) (tools.Outcome, error) {
				info, err := c.GetSiteInfo(ctx)
				if err != nil {
					return nil, err
				}
				info.Namespaces = nil
				return tools.Value(info), nil
			},
		},
		{
			Name:        "get_page_tree",
			Description: "Get the full page hierarchy as a tree of parent and child pages.",
			Catalog:     CatalogSite,
			InputSchema: tools.Object(map[string]any{}),
			Handler: func(ctx context.Context, args map[string]any) (tools.Outcome, error) {
				tree, err := c.PageTree(ctx)
				if err != nil {
					return nil, err
				}
				return tools.Value(tree), nil
			},
		},
		{
			Name:        "list_navigation_menus",
			Description: "List navigation menus with their block markup.",
			Catalog:     CatalogSite,
			InputSchema: tools.Object(map[string]any{}),
			Handler: func(ctx context.Context, args map[string]any) (tools.Outcome, error) {
				menus, err := c.ListNavigation(ctx)
				if err != nil {
					return nil, err
				}
				out := make([]map[string]any, len(menus))
				for i, m := range menus {
					out[i] = map[string]any{"id": m.ID, "title": m.Title.Text(), "status": m.Status, "content": m.Content.Text()}
				}
				return tools.Value(out), nil
			},
		},
		{
			Name:        "list_templates",
			Description: "List the active theme's block templates (page, single, archive and so on).",
			Catalog:     CatalogSite,
			InputSchema: tools.Object(map[string]any{}),
			Handler: func(ctx context.Context, args map[string]any) (tools.Outcome, error) {
				templates, err := c.ListTemplates(ctx)
				if err != nil {
					return nil, err
				}
				out := make([]map[string]any, len(templates))
				for i, t := range templates {
					out[i] = map[string]any{"slug": t.Slug, "title": t.Title.Text(), "source": t.Source, "description": t.Description}
				}
				return tools.Value(out), nil
			},
		},
	}
}

// pageInput builds a PageInput from tool arguments, converting markdown
// content to block markup when asked.
func pageInput(args map[string]any) (PageInput, error) {
	in := PageInput{
		Title:    tools.StringArg(args, "title"),
		Content:  tools.StringArg(args, "content"),
		Status:   tools.StringArg(args, "status"),
		Slug:     tools.StringArg(args, "slug"),
		Template: tools.StringArg(args, "template"),
	}
	if _, ok := args["parent"]; ok {
		parent, err := tools.IntArg(args, "parent", 0)
		if err != nil {
			return in, err
		}
		in.Parent = &parent
	}
	if in.Content != "" && tools.StringArg(args, "format") == "markdown" {
		blocks, err := MarkdownToBlocks(in.Content)
		if err != nil {
			return in, err
		}
		in.Content = blocks
	}
	return in, nil
}
