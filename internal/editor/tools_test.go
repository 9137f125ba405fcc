package editor

import (
	"testing"
	"time"

	"github.com/nugget/blockwright/internal/config"
	"github.com/nugget/blockwright/internal/tools"
)

func TestTools_AllDeferred(t *testing.T) {
	b, _ := newTestBridge(t, time.Second)
	reg := tools.NewRegistry()
	reg.RegisterAll(Tools(b))

	want := []string{
		"get_block_tree", "get_selected_block", "insert_block", "move_block",
		"remove_block", "replace_block_content", "save_post", "select_block", "update_block",
	}
	if got := reg.Names(); len(got) != len(want) {
		t.Fatalf("Names = %v", got)
	}

	out, err := reg.Execute(t.Context(), "insert_block", map[string]any{
		"block_name":     "core/heading",
		"attributes":     map[string]any{"level": float64(2)},
		"index":          float64(3),
		"root_client_id": "parent",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	d, ok := out.(tools.Deferred)
	if !ok {
		t.Fatalf("outcome = %T", out)
	}
	c := d.Command
	if c["action"] != "insert_block" || c["blockName"] != "core/heading" || c["index"] != 3 || c["rootClientId"] != "parent" {
		t.Errorf("command = %v", c)
	}
}

func TestTools_ArgumentValidation(t *testing.T) {
	b, _ := newTestBridge(t, time.Second)
	reg := tools.NewRegistry()
	reg.RegisterAll(Tools(b))

	tests := []struct {
		name string
		tool string
		args map[string]any
	}{
		{"missing required", "update_block", map[string]any{"client_id": "x"}},
		{"attributes not object", "update_block", map[string]any{"client_id": "x", "attributes": "bold"}},
		{"index not integer", "move_block", map[string]any{"client_id": "x", "to_index": "top"}},
		{"client id not string", "select_block", map[string]any{"client_id": float64(5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := reg.Execute(t.Context(), tt.tool, tt.args); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestMQTTTopics(t *testing.T) {
	m := NewMQTTTransport(config.MQTTConfig{TopicPrefix: "site/"}, nil, discardLogger())
	if got := m.CommandTopic("12"); got != "site/commands/12" {
		t.Errorf("CommandTopic = %q", got)
	}
	if got := m.CommandTopic(""); got != "site/commands/all" {
		t.Errorf("CommandTopic(empty) = %q", got)
	}
	if got := m.ResultTopic(); got != "site/results" {
		t.Errorf("ResultTopic = %q", got)
	}
	if err := m.Send(t.Context(), "1", map[string]any{}); err == nil {
		t.Error("Send before Start should fail")
	}
}

func TestMQTTTransport_HandleMessage(t *testing.T) {
	b, _ := newTestBridge(t, time.Second)
	m := NewMQTTTransport(config.MQTTConfig{TopicPrefix: "bw"}, b, discardLogger())

	out, err := b.Dispatch(t.Context(), "save_post", nil, "Saving")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	d := out.(tools.Deferred)

	m.handleMessage("bw/other", []byte(`{"requestId":"`+d.Future.ID()+`","success":true}`))
	m.handleMessage("bw/results", []byte(`not json`))
	m.handleMessage("bw/results", []byte(`{"requestId":"`+d.Future.ID()+`","success":true,"data":"saved"}`))

	v, err := d.Future.Wait(t.Context())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if v.(map[string]any)["data"] != "saved" {
		t.Errorf("value = %v", v)
	}
}
