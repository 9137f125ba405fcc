package editor

import (
	"context"
	"fmt"

	"github.com/nugget/blockwright/internal/tools"
)

// CatalogEditor is the catalog name of the live editing tools.
const CatalogEditor = "editor"

// param maps a tool argument to its command field.
type param struct {
	arg   string
	field string
	kind  string // "string", "int", "object", "array"
}

// action describes one editor tool.
type action struct {
	name     string
	desc     string
	message  string
	props    map[string]any
	required []string
	params   []param
}

var actions = []action{
	{
		name:    "get_block_tree",
		desc:    "Read the block tree of the post open in the editor: client IDs, block names, attributes and nesting.",
		message: "Reading the block tree",
		props:   map[string]any{},
	},
	{
		name:    "get_selected_block",
		desc:    "Read the block currently selected in the editor, if any.",
		message: "Reading the selected block",
		props:   map[string]any{},
	},
	{
		name: "insert_block",
		desc: "Insert a block into the open post. Check the block's schema with get_block_schema first. " +
			"Without index the block is appended; without root_client_id it is inserted at the top level.",
		message: "Inserting a block",
		props: map[string]any{
			"block_name":     tools.StringProp("Block name, e.g. core/paragraph"),
			"attributes":     tools.ObjectProp("Block attributes"),
			"inner_blocks":   tools.ArrayProp("Nested blocks as {name, attributes, innerBlocks} objects", map[string]any{"type": "object"}),
			"index":          tools.IntProp("Position among siblings"),
			"root_client_id": tools.StringProp("Client ID of the parent block"),
		},
		required: []string{"block_name"},
		params: []param{
			{"block_name", "blockName", "string"},
			{"attributes", "attributes", "object"},
			{"inner_blocks", "innerBlocks", "array"},
			{"index", "index", "int"},
			{"root_client_id", "rootClientId", "string"},
		},
	},
	{
		name:     "update_block",
		desc:     "Merge attributes into an existing block.",
		message:  "Updating a block",
		props:    map[string]any{"client_id": tools.StringProp("Block client ID"), "attributes": tools.ObjectProp("Attributes to merge")},
		required: []string{"client_id", "attributes"},
		params:   []param{{"client_id", "clientId", "string"}, {"attributes", "attributes", "object"}},
	},
	{
		name:     "remove_block",
		desc:     "Remove a block and its inner blocks.",
		message:  "Removing a block",
		props:    map[string]any{"client_id": tools.StringProp("Block client ID")},
		required: []string{"client_id"},
		params:   []param{{"client_id", "clientId", "string"}},
	},
	{
		name:    "move_block",
		desc:    "Move a block to a new position, optionally under a different parent.",
		message: "Moving a block",
		props: map[string]any{
			"client_id":         tools.StringProp("Block client ID"),
			"to_index":          tools.IntProp("Destination index among the new siblings"),
			"to_root_client_id": tools.StringProp("Client ID of the new parent; omit for top level"),
		},
		required: []string{"client_id", "to_index"},
		params: []param{
			{"client_id", "clientId", "string"},
			{"to_index", "toIndex", "int"},
			{"to_root_client_id", "toRootClientId", "string"},
		},
	},
	{
		name:    "replace_block_content",
		desc:    "Replace the text content of a block such as a paragraph, heading or list item.",
		message: "Replacing block content",
		props: map[string]any{
			"client_id": tools.StringProp("Block client ID"),
			"content":   tools.StringProp("New HTML content"),
		},
		required: []string{"client_id", "content"},
		params:   []param{{"client_id", "clientId", "string"}, {"content", "content", "string"}},
	},
	{
		name:     "select_block",
		desc:     "Select a block in the editor so the user sees it.",
		message:  "Selecting a block",
		props:    map[string]any{"client_id": tools.StringProp("Block client ID")},
		required: []string{"client_id"},
		params:   []param{{"client_id", "clientId", "string"}},
	},
	{
		name:    "save_post",
		desc:    "Save the post open in the editor.",
		message: "Saving the post",
		props:   map[string]any{},
	},
}

// Tools returns the live editing catalog. Every tool is deferred: the
// result is whatever the editor replies.
func Tools(b *Bridge) []*tools.Tool {
	out := make([]*tools.Tool, 0, len(actions))
	for _, a := range actions {
		out = append(out, &tools.Tool{
			Name:        a.name,
			Description: a.desc,
			Catalog:     CatalogEditor,
			InputSchema: tools.Object(a.props, a.required...),
			Handler: func(ctx context.Context, args map[string]any) (tools.Outcome, error) {
				fields, err := a.fields(args)
				if err != nil {
					return nil, err
				}
				return b.Dispatch(ctx, a.name, fields, a.message)
			},
		})
	}
	return out
}

func (a action) fields(args map[string]any) (map[string]any, error) {
	fields := make(map[string]any, len(a.params))
	for _, p := range a.params {
		v, ok := args[p.arg]
		if !ok || v == nil {
			continue
		}
		switch p.kind {
		case "int":
			n, err := tools.IntArg(args, p.arg, 0)
			if err != nil {
				return nil, err
			}
			fields[p.field] = n
		case "object":
			m := tools.MapArg(args, p.arg)
			if m == nil {
				return nil, fmt.Errorf("%s must be an object", p.arg)
			}
			fields[p.field] = m
		case "array":
			arr, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("%s must be an array", p.arg)
			}
			fields[p.field] = arr
		default:
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a string", p.arg)
			}
			fields[p.field] = s
		}
	}
	return fields, nil
}
